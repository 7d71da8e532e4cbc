package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/itemloc_backend/utils"
	"github.com/shopspring/decimal"
)

func qty(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestLotSerialSequenceFormat(t *testing.T) {
	cases := []struct {
		seq  LotSerialSequence
		n    int
		want string
	}{
		{LotSerialSequence{Prefix: "lot", Width: 4}, 7, "LOT0007"},
		{LotSerialSequence{Prefix: "SN-", Suffix: "-b", Width: 2}, 123, "SN-123-B"},
		{LotSerialSequence{}, 5, "5"},
	}
	for _, tc := range cases {
		if got := tc.seq.Format(tc.n); got != tc.want {
			t.Fatalf("Format(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestMemStoreNextLotSerialNumber(t *testing.T) {
	s := NewMemStore()
	seq := s.AddLotSerialSequence(LotSerialSequence{Prefix: "B", Width: 3})
	ctx := context.Background()
	for _, want := range []string{"B001", "B002"} {
		got, err := s.NextLotSerialNumber(ctx, seq.ID)
		if err != nil || got != want {
			t.Fatalf("NextLotSerialNumber = %q, %v; want %q", got, err, want)
		}
	}
	if _, err := s.NextLotSerialNumber(ctx, 999); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("unknown sequence should be not found, got %v", err)
	}
}

func TestMemStoreFailOnIsOneShot(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	s.FailOn("NextSeriesId", errors.New("down"))
	if _, err := s.NextSeriesId(ctx); err == nil {
		t.Fatalf("expected the injected failure")
	}
	if _, err := s.NextSeriesId(ctx); err != nil {
		t.Fatalf("failure should fire once, got %v", err)
	}
}

func TestMemStoreListItemLocations(t *testing.T) {
	s := NewMemStore()
	site := s.AddItemSite(ItemSite{ItemId: s.AddItem(Item{Number: "X"}).ID, WarehouseId: 1, LocationControl: true})
	b2 := s.AddLocation(Location{WarehouseId: 1, Name: "B-02", Active: true})
	a1 := s.AddLocation(Location{WarehouseId: 1, Name: "A-01", Active: true})
	s.AddLocation(Location{WarehouseId: 1, Name: "C-03"})
	s.AddLocation(Location{WarehouseId: 2, Name: "A-00", Active: true})
	s.AddItemLoc(ItemLoc{ItemSiteId: site.ID, LocationId: b2.ID, Qty: qty(4)})

	ctx := context.Background()
	stock, err := s.ListItemLocations(ctx, LocationQuery{ItemSiteId: site.ID})
	if err != nil {
		t.Fatalf("ListItemLocations: %v", err)
	}
	if len(stock) != 1 || stock[0].LocationId != b2.ID || !stock[0].QtyBefore.Equal(qty(4)) {
		t.Fatalf("withdrawals see stock only, got %+v", stock)
	}

	all, err := s.ListItemLocations(ctx, LocationQuery{ItemSiteId: site.ID, IncludeEmpty: true})
	if err != nil {
		t.Fatalf("ListItemLocations: %v", err)
	}
	// inactive C-03 and the other warehouse are left out
	if len(all) != 2 || all[0].LocationId != a1.ID || all[1].LocationId != b2.ID {
		t.Fatalf("expected A-01 then B-02, got %+v", all)
	}
}

func TestMemStorePostingRemovesEmptyStock(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	site := s.AddItemSite(ItemSite{ItemId: s.AddItem(Item{Number: "X"}).ID, WarehouseId: 1, LocationControl: true})
	bin := s.AddLocation(Location{WarehouseId: 1, Name: "A-01", Active: true})
	il := s.AddItemLoc(ItemLoc{ItemSiteId: site.ID, LocationId: bin.ID, Qty: qty(2)})

	root := &ItemlocDist{Series: 1, Role: DistRoleRoot, ItemSiteId: site.ID, Qty: qty(-2), TransType: TransTypeScrap}
	if err := s.CreateDistribution(ctx, root); err != nil {
		t.Fatalf("CreateDistribution: %v", err)
	}
	pick := &ItemlocDist{Series: 1, Role: DistRoleLocation, ItemSiteId: site.ID, ParentId: &root.ID, Qty: qty(-2),
		SourceType: SourceTypeItemLoc, SourceId: &il.ID, TransType: TransTypeScrap}
	pick.ApplyResolution(Terminal())
	if err := s.CreateDistribution(ctx, pick); err != nil {
		t.Fatalf("CreateDistribution: %v", err)
	}
	if _, err := s.SetResolution(ctx, root.ID, Terminal()); err != nil {
		t.Fatalf("SetResolution: %v", err)
	}

	n, err := s.PostDistributionDetail(ctx, 1)
	if err != nil || n != 2 {
		t.Fatalf("PostDistributionDetail = %d, %v", n, err)
	}
	if locs := s.ItemLocs(site.ID); len(locs) != 0 {
		t.Fatalf("itemloc at zero should be removed, got %+v", locs)
	}
	if n, err := s.PostDistributionDetail(ctx, 1); err != nil || n != 0 {
		t.Fatalf("second post = %d, %v; want a no-op", n, err)
	}
	if got, _ := s.SetResolution(ctx, root.ID, Unresolved()); got != 0 {
		t.Fatalf("posted records are immutable")
	}
}

func TestMemStoreDeleteSeries(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	item := s.AddItem(Item{Number: "X"})
	site := s.AddItemSite(ItemSite{ItemId: item.ID, WarehouseId: 1, ControlMethod: ControlMethodLot})
	kept := s.AddLotSerial(LotSerial{ItemId: item.ID, Number: "KEEP"})
	s.AddItemLoc(ItemLoc{ItemSiteId: site.ID, LotSerialId: kept.ID, Qty: qty(1)})

	newSeries := func(series int, number string, lotId int) {
		root := &ItemlocDist{Series: series, Role: DistRoleRoot, ItemSiteId: site.ID, Qty: qty(1), TransType: TransTypeMiscReceipt}
		if err := s.CreateDistribution(ctx, root); err != nil {
			t.Fatalf("CreateDistribution: %v", err)
		}
		if _, err := s.CreateLotSerialDetail(ctx, CreateLotSerialParams{Parent: root, ChildSeries: series + 100, Number: number, LotSerialId: lotId, Qty: qty(1)}); err != nil {
			t.Fatalf("CreateLotSerialDetail: %v", err)
		}
		if _, err := s.SetResolution(ctx, root.ID, HasChildren(series+100)); err != nil {
			t.Fatalf("SetResolution: %v", err)
		}
	}
	newSeries(1, "NEW", 0)
	newSeries(2, "", kept.ID)
	newSeries(3, "SOFT", 0)

	if err := s.DeleteSeries(ctx, 1, true); err != nil {
		t.Fatalf("DeleteSeries: %v", err)
	}
	if err := s.DeleteSeries(ctx, 2, true); err != nil {
		t.Fatalf("DeleteSeries: %v", err)
	}
	if err := s.DeleteSeries(ctx, 3, false); err != nil {
		t.Fatalf("DeleteSeries: %v", err)
	}
	if n := len(s.Distributions()); n != 0 {
		t.Fatalf("%d distributions left", n)
	}
	numbers := map[string]bool{}
	for _, ls := range s.LotSerials() {
		numbers[ls.Number] = true
	}
	if numbers["NEW"] || !numbers["KEEP"] || !numbers["SOFT"] {
		t.Fatalf("force deletes orphan lots only, plain delete keeps them: %v", numbers)
	}
	for _, d := range s.LotSerialDetails() {
		if d.Series != nil && *d.Series != 103 {
			t.Fatalf("force delete left detail %d of series %d", d.ID, *d.Series)
		}
	}
}

func TestMemStoreListAbandonedSeries(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	site := s.AddItemSite(ItemSite{ItemId: s.AddItem(Item{Number: "X"}).ID, WarehouseId: 1, LocationControl: true})

	for _, series := range []int{5, 3} {
		if err := s.CreateDistribution(ctx, &ItemlocDist{Series: series, Role: DistRoleRoot, ItemSiteId: site.ID, Qty: qty(1)}); err != nil {
			t.Fatalf("CreateDistribution: %v", err)
		}
	}
	now = now.Add(2 * time.Hour)
	if err := s.CreateDistribution(ctx, &ItemlocDist{Series: 9, Role: DistRoleRoot, ItemSiteId: site.ID, Qty: qty(1)}); err != nil {
		t.Fatalf("CreateDistribution: %v", err)
	}

	got, err := s.ListAbandonedSeries(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListAbandonedSeries: %v", err)
	}
	if len(got) != 2 || got[0] != 3 || got[1] != 5 {
		t.Fatalf("expected series 3 and 5, got %v", got)
	}
}
