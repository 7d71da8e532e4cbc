package models

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

type sliceReader []*ItemlocDist

func (r sliceReader) ListBySeries(ctx context.Context, series int) ([]*ItemlocDist, error) {
	out := make([]*ItemlocDist, 0)
	for _, d := range r {
		if d.Series == series {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r sliceReader) ListChildDistributions(ctx context.Context, parentId int) ([]*ItemlocDist, error) {
	out := make([]*ItemlocDist, 0)
	for _, d := range r {
		if d.ParentId != nil && *d.ParentId == parentId {
			out = append(out, d)
		}
	}
	return out, nil
}

func intPtr(v int) *int { return &v }

func newDist(id, series int, role DistRole, parent int, qty int64) *ItemlocDist {
	rec := &ItemlocDist{ID: id, Series: series, Role: role, ItemSiteId: 1, Qty: decimal.NewFromInt(qty)}
	if parent > 0 {
		rec.ParentId = intPtr(parent)
	}
	return rec
}

func located(rec *ItemlocDist, locationId int) *ItemlocDist {
	rec.SourceType = SourceTypeLocation
	rec.SourceId = intPtr(locationId)
	rec.ApplyResolution(Terminal())
	return rec
}

// lotTree is a lot receipt of 5 split over two lots, one of them over two bins.
func lotTree() []*ItemlocDist {
	root := newDist(1, 10, DistRoleRoot, 0, 5)
	root.ApplyResolution(HasChildren(11))
	lotA := newDist(2, 11, DistRoleLotSerial, 1, 3)
	lotA.LotSerialId = intPtr(100)
	lotA.ApplyResolution(Terminal())
	lotB := located(newDist(3, 11, DistRoleLotSerial, 1, 2), NoLocation)
	lotB.LotSerialId = intPtr(200)
	return []*ItemlocDist{
		root, lotA, lotB,
		located(newDist(4, 10, DistRoleLocation, 2, 1), 7),
		located(newDist(5, 10, DistRoleLocation, 2, 2), 8),
	}
}

func TestCollectSeriesTree(t *testing.T) {
	tree := lotTree()
	// a record of another series must not be pulled in
	stray := newDist(9, 99, DistRoleRoot, 0, 1)
	got, err := CollectSeriesTree(context.Background(), sliceReader(append(tree, stray)), 10)
	if err != nil {
		t.Fatalf("CollectSeriesTree: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 records, got %d", len(got))
	}
	for i, rec := range got {
		if rec.ID != i+1 {
			t.Fatalf("records out of order: position %d holds %d", i, rec.ID)
		}
	}
}

func TestCollectSeriesTreeFollowsParentLinks(t *testing.T) {
	// detail written before the root was stamped with its child series
	root := newDist(1, 10, DistRoleRoot, 0, 2)
	detail := located(newDist(2, 11, DistRoleLotSerial, 1, 2), NoLocation)
	got, err := CollectSeriesTree(context.Background(), sliceReader{root, detail}, 10)
	if err != nil {
		t.Fatalf("CollectSeriesTree: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected root and detail, got %d records", len(got))
	}
}

func TestBuildPostingPlan(t *testing.T) {
	plan, err := BuildPostingPlan(10, lotTree())
	if err != nil {
		t.Fatalf("BuildPostingPlan: %v", err)
	}
	if len(plan.Records) != 5 {
		t.Fatalf("expected 5 records to post, got %d", len(plan.Records))
	}
	want := map[int]struct {
		location int
		lot      int
		qty      int64
	}{
		3: {0, 200, 2},
		4: {7, 100, 1},
		5: {8, 100, 2},
	}
	if len(plan.Deltas) != len(want) {
		t.Fatalf("expected %d deltas, got %+v", len(want), plan.Deltas)
	}
	for _, delta := range plan.Deltas {
		w, ok := want[delta.DistributionId]
		if !ok {
			t.Fatalf("unexpected delta from distribution %d", delta.DistributionId)
		}
		if delta.LocationId != w.location || delta.LotSerialId != w.lot || !delta.Qty.Equal(decimal.NewFromInt(w.qty)) {
			t.Fatalf("distribution %d: got %+v", delta.DistributionId, delta)
		}
	}
}

func TestBuildPostingPlanSkipsPosted(t *testing.T) {
	tree := lotTree()
	for _, rec := range tree {
		rec.Posted = true
	}
	plan, err := BuildPostingPlan(10, tree)
	if err != nil {
		t.Fatalf("BuildPostingPlan: %v", err)
	}
	if len(plan.Records) != 0 || len(plan.Deltas) != 0 {
		t.Fatalf("posted tree should produce an empty plan")
	}
}

func TestBuildPostingPlanRejects(t *testing.T) {
	cases := map[string]func(tree []*ItemlocDist){
		"under distributed": func(tree []*ItemlocDist) { tree[4].Qty = decimal.NewFromInt(1) },
		"unresolved leaf":   func(tree []*ItemlocDist) { tree[2].ApplyResolution(Unresolved()) },
		"no location":       func(tree []*ItemlocDist) { tree[2].SourceType = SourceTypeDetail },
		"dangling child":    func(tree []*ItemlocDist) { tree[3].ApplyResolution(HasChildren(42)) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tree := lotTree()
			mutate(tree)
			_, err := BuildPostingPlan(10, tree)
			if !errors.Is(err, ErrLedgerInconsistency) {
				t.Fatalf("expected LedgerInconsistency, got %v", err)
			}
		})
	}
}

func TestItemLocPick(t *testing.T) {
	root := newDist(1, 10, DistRoleRoot, 0, -2)
	root.LotSerialId = intPtr(5)
	pick := newDist(2, 10, DistRoleLocation, 1, -2)
	pick.SourceType = SourceTypeItemLoc
	pick.SourceId = intPtr(33)
	pick.ApplyResolution(Terminal())

	plan, err := BuildPostingPlan(10, []*ItemlocDist{root, pick})
	if err != nil {
		t.Fatalf("BuildPostingPlan: %v", err)
	}
	if len(plan.Deltas) != 1 || plan.Deltas[0].ItemLocId != 33 || plan.Deltas[0].LotSerialId != 5 {
		t.Fatalf("unexpected deltas %+v", plan.Deltas)
	}
}

func TestResolution(t *testing.T) {
	rec := &ItemlocDist{Series: 4}
	if rec.Resolution().IsResolved() {
		t.Fatalf("zero record must be unresolved")
	}
	rec.ApplyResolution(Terminal())
	if rec.ChildSeries == nil || *rec.ChildSeries != 4 {
		t.Fatalf("terminal keeps the record's own series as child series")
	}
	rec.ApplyResolution(HasChildren(9))
	if got := rec.Resolution(); got.State != ResolutionHasChildren || got.ChildSeries != 9 || got.String() != "HasChildren(9)" {
		t.Fatalf("unexpected resolution %v", got)
	}
	rec.ApplyResolution(Unresolved())
	if rec.ChildSeries != nil || rec.ResolutionState != ResolutionUnresolved {
		t.Fatalf("unresolved clears the child series")
	}
}
