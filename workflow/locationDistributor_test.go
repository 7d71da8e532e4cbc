package workflow

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/itemloc_backend/models"
	"github.com/shopspring/decimal"
)

type binSite struct {
	site *models.ItemSite
	a1   *models.Location
	a2   *models.Location
	far  *models.Location
}

// newBinSite builds a location-controlled item site in warehouse 1 with two bins,
// plus one bin in warehouse 2 that must never be offered.
func newBinSite(f *fixture) binSite {
	item := f.item("BRACKET")
	b := binSite{a1: f.bin(1, "A-01"), a2: f.bin(1, "A-02"), far: f.bin(2, "Z-99")}
	b.site = f.store.AddItemSite(models.ItemSite{ItemId: item.ID, WarehouseId: 1, LocationControl: true})
	return b
}

func (f *fixture) picksOf(parentId int) []models.ItemlocDist {
	out := make([]models.ItemlocDist, 0)
	for _, d := range f.distsByRole(models.DistRoleLocation) {
		if d.ParentId != nil && *d.ParentId == parentId {
			out = append(out, d)
		}
	}
	return out
}

func sumQty(dists []models.ItemlocDist) decimal.Decimal {
	sum := decimal.Zero
	for _, d := range dists {
		sum = sum.Add(d.Qty)
	}
	return sum
}

func TestDistributeInteractiveSplit(t *testing.T) {
	f := newFixture(t)
	b := newBinSite(f)
	root := f.root(t, f.createSeries(t, models.NewSeries{ItemSiteId: b.site.ID, Qty: qty(10), TransType: models.TransTypeMiscReceipt}))

	host := NewScriptedHost().Split(
		LocationPick{LocationId: b.a1.ID, Qty: qty(6)},
		LocationPick{LocationId: b.a2.ID, Qty: qty(4)},
	)
	if err := f.engine.DistributeLocation(ctxWithUser(), root.ID, DistributeInteractive, models.TransClassReceipt, host); err != nil {
		t.Fatalf("DistributeLocation: %v", err)
	}

	prompt := host.LocationPrompts[0]
	if len(prompt.Candidates) != 2 || !prompt.Query.IncludeEmpty || !prompt.Remaining.Equal(qty(10)) {
		t.Fatalf("unexpected prompt: %d candidates, query %+v, remaining %s", len(prompt.Candidates), prompt.Query, prompt.Remaining)
	}
	for _, c := range prompt.Candidates {
		if c.LocationId == b.far.ID {
			t.Fatalf("location of another warehouse offered")
		}
	}

	picks := f.picksOf(root.ID)
	if len(picks) != 2 || !sumQty(picks).Equal(qty(10)) {
		t.Fatalf("expected 2 picks totalling 10, got %+v", picks)
	}
	for _, p := range picks {
		if p.Series != root.Series || p.SourceType != models.SourceTypeLocation || p.Resolution().State != models.ResolutionTerminal {
			t.Fatalf("pick %d is not a terminal location record in series %d", p.ID, root.Series)
		}
	}
	if len(host.Notices) != 0 {
		t.Fatalf("unexpected notices %+v", host.Notices)
	}
}

func TestDistributeInteractivePartialAsksAgain(t *testing.T) {
	f := newFixture(t)
	b := newBinSite(f)
	root := f.root(t, f.createSeries(t, models.NewSeries{ItemSiteId: b.site.ID, Qty: qty(10), TransType: models.TransTypeMiscReceipt}))

	host := NewScriptedHost().
		Split(LocationPick{LocationId: b.a1.ID, Qty: qty(4)}).
		Split(LocationPick{LocationId: b.a2.ID, Qty: qty(6)})
	if err := f.engine.DistributeLocation(ctxWithUser(), root.ID, DistributeInteractive, models.TransClassReceipt, host); err != nil {
		t.Fatalf("DistributeLocation: %v", err)
	}

	infos := host.NoticesAt(NoticeInfo)
	if len(infos) != 1 || infos[0].Message != "6 remains to be distributed." {
		t.Fatalf("expected a remaining notice, got %+v", host.Notices)
	}
	if len(host.LocationPrompts) != 2 || !host.LocationPrompts[1].Remaining.Equal(qty(6)) {
		t.Fatalf("second prompt should ask for 6")
	}
	for _, c := range host.LocationPrompts[1].Candidates {
		if c.LocationId == b.a1.ID && !c.QtyTagged.Equal(qty(4)) {
			t.Fatalf("A-01 should show 4 tagged, got %s", c.QtyTagged)
		}
	}
}

func TestDistributeInteractiveRejectsBadAnswers(t *testing.T) {
	f := newFixture(t)
	b := newBinSite(f)
	inactive := f.store.AddLocation(models.Location{WarehouseId: 1, Name: "OLD", Active: false})
	other := f.store.AddItemSite(models.ItemSite{ItemId: f.item("OTHER").ID, WarehouseId: 1, LocationControl: true})
	foreign := f.store.AddItemLoc(models.ItemLoc{ItemSiteId: other.ID, LocationId: b.a1.ID, Qty: qty(3)})
	root := f.root(t, f.createSeries(t, models.NewSeries{ItemSiteId: b.site.ID, Qty: qty(10), TransType: models.TransTypeMiscReceipt}))

	host := NewScriptedHost().
		Split().
		Split(LocationPick{LocationId: b.a1.ID, Qty: qty(11)}).
		Split(LocationPick{LocationId: b.a1.ID, Qty: qty(6)}, LocationPick{LocationId: b.a2.ID, Qty: qty(6)}).
		Split(LocationPick{LocationId: b.far.ID, Qty: qty(10)}).
		Split(LocationPick{LocationId: inactive.ID, Qty: qty(10)}).
		Split(LocationPick{ItemLocId: foreign.ID, Qty: qty(10)}).
		Split(LocationPick{Qty: qty(10)}).
		Split(LocationPick{LocationId: b.a1.ID, Qty: dec("2.5")}).
		Split(LocationPick{LocationId: b.a1.ID, Qty: qty(0)})

	err := f.engine.DistributeLocation(ctxWithUser(), root.ID, DistributeInteractive, models.TransClassReceipt, host)
	requireKind(t, err, models.KindCancelled)

	requireFields(t, host.NoticesAt(NoticeWarning), "qty", "qty", "qty", "location", "location", "location", "location", "qty", "qty")
	if got := host.NoticesAt(NoticeWarning)[0].Message; got != "You must completely distribute the quantity." {
		t.Fatalf("unexpected empty split message %q", got)
	}
	if n := len(f.picksOf(root.ID)); n != 0 {
		t.Fatalf("invalid answers wrote %d picks", n)
	}
}

func TestDistributeInteractiveRefilter(t *testing.T) {
	f := newFixture(t)
	z1 := f.store.AddZone(models.WarehouseZone{WarehouseId: 1, Name: "Z1"})
	z2 := f.store.AddZone(models.WarehouseZone{WarehouseId: 1, Name: "Z2"})
	item := f.item("HINGE")
	a1 := f.store.AddLocation(models.Location{WarehouseId: 1, ZoneId: z1.ID, Name: "A-01", Active: true})
	a2 := f.store.AddLocation(models.Location{WarehouseId: 1, ZoneId: z2.ID, Name: "A-02", Active: true})
	site := f.store.AddItemSite(models.ItemSite{ItemId: item.ID, WarehouseId: 1, LocationControl: true})
	f.store.AddItemLoc(models.ItemLoc{ItemSiteId: site.ID, LocationId: a1.ID, Qty: qty(5)})
	root := f.root(t, f.createSeries(t, models.NewSeries{ItemSiteId: site.ID, Qty: qty(3), TransType: models.TransTypeMiscReceipt}))

	host := NewScriptedHost().
		Refilter(models.LocationQuery{ZoneId: z2.ID, IncludeEmpty: true}).
		Split(LocationPick{LocationId: a2.ID, Qty: qty(3)})
	if err := f.engine.DistributeLocation(ctxWithUser(), root.ID, DistributeInteractive, models.TransClassReceipt, host); err != nil {
		t.Fatalf("DistributeLocation: %v", err)
	}

	first, second := host.LocationPrompts[0], host.LocationPrompts[1]
	if len(first.Candidates) != 2 || first.Candidates[0].ItemLocId == 0 {
		t.Fatalf("expected stock at A-01 then empty A-02, got %+v", first.Candidates)
	}
	if len(second.Candidates) != 1 || second.Candidates[0].LocationId != a2.ID {
		t.Fatalf("zone filter not applied: %+v", second.Candidates)
	}
	if second.Query.DistributionId != root.ID || second.Query.ItemSiteId != site.ID {
		t.Fatalf("refiltered query lost its distribution: %+v", second.Query)
	}
}

func TestDistributeWithdrawalByBarcode(t *testing.T) {
	f := newFixture(t)
	item := f.item("SEALANT")
	a1 := f.bin(1, "A-01")
	site := f.store.AddItemSite(models.ItemSite{ItemId: item.ID, WarehouseId: 1, ControlMethod: models.ControlMethodLot, LocationControl: true})
	lot := f.lot(item.ID, "L-9")
	il := f.store.AddItemLoc(models.ItemLoc{ItemSiteId: site.ID, LocationId: a1.ID, LotSerialId: lot.ID, Qty: qty(5)})
	series := f.createSeries(t, models.NewSeries{ItemSiteId: site.ID, Qty: qty(-3), TransType: models.TransTypeScrap})

	host := NewScriptedHost().
		Split(LocationPick{Barcode: "zz", Qty: qty(3)}).
		Split(LocationPick{Barcode: " l-9", Qty: qty(3)})
	if err := f.engine.AdjustSeries(ctxWithUser(), series, host, AdjustOptions{PresetLot: "l-9"}); err != nil {
		t.Fatalf("AdjustSeries: %v", err)
	}

	warnings := host.NoticesAt(NoticeWarning)
	if len(warnings) != 1 || warnings[0].Field != "barcode" || warnings[0].Message != "No match found for ZZ." {
		t.Fatalf("expected a barcode miss, got %+v", host.Notices)
	}
	detail := f.distsByRole(models.DistRoleLotSerial)[0]
	picks := f.picksOf(detail.ID)
	if len(picks) != 1 || picks[0].SourceType != models.SourceTypeItemLoc || picks[0].LocationSourceId() != il.ID {
		t.Fatalf("expected one itemloc pick of %d, got %+v", il.ID, picks)
	}
	if detail.Resolution().State != models.ResolutionTerminal {
		t.Fatalf("withdrawn detail should be terminal, got %s", detail.Resolution())
	}
	locs := f.store.ItemLocs(site.ID)
	if len(locs) != 1 || !locs[0].Qty.Equal(qty(2)) {
		t.Fatalf("expected 2 left of L-9, got %+v", locs)
	}
}

func TestDistributeInteractiveShortageDeclined(t *testing.T) {
	f := newFixture(t)
	b := newBinSite(f)
	f.store.AddItemLoc(models.ItemLoc{ItemSiteId: b.site.ID, LocationId: b.a1.ID, Qty: qty(2)})
	root := f.root(t, f.createSeries(t, models.NewSeries{ItemSiteId: b.site.ID, Qty: qty(-5), TransType: models.TransTypeMiscIssue}))

	host := NewScriptedHost().Split(LocationPick{LocationId: b.a1.ID, Qty: qty(5)})
	err := f.engine.DistributeLocation(ctxWithUser(), root.ID, DistributeInteractive, models.TransClassOther, host)
	requireKind(t, err, models.KindAvailabilityInsufficient)
	if len(host.ConfirmPrompts) != 1 || host.ConfirmPrompts[0].Kind != PromptShortage {
		t.Fatalf("expected one shortage prompt, got %+v", host.ConfirmPrompts)
	}
	if n := len(f.picksOf(root.ID)); n != 0 {
		t.Fatalf("declined shortage wrote %d picks", n)
	}
	if host.LocationPrompts[0].Query.IncludeEmpty {
		t.Fatalf("withdrawals should not list empty locations")
	}
}

func TestDistributeInteractiveShortageSumsPicksAtOneBin(t *testing.T) {
	// picks per answer, all at A-01
	cases := map[string][][]int64{
		"one answer": {{3, 3}},
		"two rounds": {{3}, {3}},
	}
	for name, rounds := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			b := newBinSite(f)
			f.store.AddItemLoc(models.ItemLoc{ItemSiteId: b.site.ID, LocationId: b.a1.ID, Qty: qty(3)})
			root := f.root(t, f.createSeries(t, models.NewSeries{ItemSiteId: b.site.ID, Qty: qty(-6), TransType: models.TransTypeMiscIssue}))

			host := NewScriptedHost()
			for _, round := range rounds {
				picks := make([]LocationPick, 0, len(round))
				for _, n := range round {
					picks = append(picks, LocationPick{LocationId: b.a1.ID, Qty: qty(n)})
				}
				host.Split(picks...)
			}
			err := f.engine.DistributeLocation(ctxWithUser(), root.ID, DistributeInteractive, models.TransClassOther, host)
			requireKind(t, err, models.KindAvailabilityInsufficient)
			if len(host.ConfirmPrompts) != 1 || host.ConfirmPrompts[0].Kind != PromptShortage {
				t.Fatalf("expected one shortage prompt, got %+v", host.ConfirmPrompts)
			}
			if got := sumQty(f.picksOf(root.ID)); got.LessThan(qty(-3)) {
				t.Fatalf("only 3 may be tagged against A-01 without confirmation, got %s", got)
			}
		})
	}
}

func TestDistributeDefaultAfterInteractivePartial(t *testing.T) {
	f := newFixture(t)
	b := newBinSite(f)
	site := f.store.AddItemSite(models.ItemSite{ItemId: b.site.ItemId, WarehouseId: 1, LocationControl: true, IssueLocationId: b.a1.ID})
	f.store.AddItemLoc(models.ItemLoc{ItemSiteId: site.ID, LocationId: b.a1.ID, Qty: qty(3)})
	ctx := ctxWithUser()
	root := f.root(t, f.createSeries(t, models.NewSeries{ItemSiteId: site.ID, Qty: qty(-6), TransType: models.TransTypeIssueMaterial}))

	partial := NewScriptedHost().Split(LocationPick{LocationId: b.a1.ID, Qty: qty(3)})
	err := f.engine.DistributeLocation(ctx, root.ID, DistributeInteractive, models.TransClassIssue, partial)
	requireKind(t, err, models.KindCancelled)
	if len(partial.ConfirmPrompts) != 0 {
		t.Fatalf("3 of 3 at A-01 needs no confirmation")
	}

	host := NewScriptedHost().Answer(false)
	err = f.engine.DistributeLocation(ctx, root.ID, DistributeDefault, models.TransClassIssue, host)
	requireKind(t, err, models.KindAvailabilityInsufficient)
	if len(host.ConfirmPrompts) != 1 {
		t.Fatalf("the earlier pick leaves nothing at A-01, expected a shortage prompt")
	}
	if got := sumQty(f.picksOf(root.ID)); !got.Equal(qty(-3)) {
		t.Fatalf("declined default pick was written, tagged %s", got)
	}
}

func TestDistributeDefaultCountsOtherPicks(t *testing.T) {
	f := newFixture(t)
	b := newBinSite(f)
	site := f.store.AddItemSite(models.ItemSite{ItemId: b.site.ItemId, WarehouseId: 1, LocationControl: true, IssueLocationId: b.a1.ID})
	f.store.AddItemLoc(models.ItemLoc{ItemSiteId: site.ID, LocationId: b.a1.ID, Qty: qty(5)})
	ctx := ctxWithUser()

	first := f.root(t, f.createSeries(t, models.NewSeries{ItemSiteId: site.ID, Qty: qty(-3), TransType: models.TransTypeIssueMaterial}))
	if err := f.engine.DistributeLocation(ctx, first.ID, DistributeDefault, models.TransClassIssue, nil); err != nil {
		t.Fatalf("first DistributeLocation: %v", err)
	}

	second := f.root(t, f.createSeries(t, models.NewSeries{ItemSiteId: site.ID, Qty: qty(-3), TransType: models.TransTypeIssueMaterial}))
	host := NewScriptedHost().Answer(false)
	err := f.engine.DistributeLocation(ctx, second.ID, DistributeDefault, models.TransClassIssue, host)
	requireKind(t, err, models.KindAvailabilityInsufficient)
	if len(host.ConfirmPrompts) != 1 {
		t.Fatalf("unposted picks of the first issue should leave 2 available")
	}

	// repeating the first distribution is a no-op
	if err := f.engine.DistributeLocation(ctx, first.ID, DistributeDefault, models.TransClassIssue, nil); err != nil {
		t.Fatalf("repeat DistributeLocation: %v", err)
	}
	if n := len(f.picksOf(first.ID)); n != 1 {
		t.Fatalf("expected one pick on the first issue, got %d", n)
	}
}

func TestDistributeDefaultAndPostTagsWholeQty(t *testing.T) {
	f := newFixture(t)
	b := newBinSite(f)
	recv := f.bin(1, "RECV")
	site := f.store.AddItemSite(models.ItemSite{ItemId: b.site.ItemId, WarehouseId: 1, LocationControl: true, RecvLocationId: recv.ID})
	root := f.root(t, f.createSeries(t, models.NewSeries{ItemSiteId: site.ID, Qty: qty(4), TransType: models.TransTypeMiscReceipt}))

	if err := f.engine.DistributeLocation(ctxWithUser(), root.ID, DistributeDefaultAndPost, models.TransClassReceipt, nil); err != nil {
		t.Fatalf("DistributeLocation: %v", err)
	}
	picks := f.picksOf(root.ID)
	if len(picks) != 1 || picks[0].LocationSourceId() != recv.ID || !picks[0].Qty.Equal(qty(4)) {
		t.Fatalf("expected 4 tagged to RECV, got %+v", picks)
	}
	if picks[0].Posted {
		t.Fatalf("distribution alone must not post")
	}
}

func TestDistributeWithoutDefaultLocation(t *testing.T) {
	for name, mutate := range map[string]func(*models.ItemSite, binSite){
		"none configured": func(s *models.ItemSite, b binSite) {},
		"other warehouse": func(s *models.ItemSite, b binSite) { s.LocationId = b.far.ID },
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			b := newBinSite(f)
			seed := models.ItemSite{ItemId: b.site.ItemId, WarehouseId: 1, LocationControl: true, LocationDist: true}
			mutate(&seed, b)
			site := f.store.AddItemSite(seed)
			series := f.createSeries(t, models.NewSeries{ItemSiteId: site.ID, Qty: qty(2), TransType: models.TransTypeAdjustment})
			root := f.root(t, series)

			err := f.engine.DistributeLocation(ctxWithUser(), root.ID, DistributeDefault, models.TransClassOther, nil)
			requireKind(t, err, models.KindValidationFailed)
			if !errors.Is(err, models.ErrValidationFailed) {
				t.Fatalf("expected ErrValidationFailed, got %v", err)
			}

			// the adjuster falls back to asking
			host := NewScriptedHost().Split(LocationPick{LocationId: b.a2.ID, Qty: qty(2)})
			if err := f.engine.AdjustSeries(ctxWithUser(), series, host, AdjustOptions{}); err != nil {
				t.Fatalf("AdjustSeries: %v", err)
			}
			if len(host.LocationPrompts) != 1 {
				t.Fatalf("expected the host to be asked once, got %d", len(host.LocationPrompts))
			}
			locs := f.store.ItemLocs(site.ID)
			if len(locs) != 1 || locs[0].LocationId != b.a2.ID {
				t.Fatalf("expected stock at A-02, got %+v", locs)
			}
		})
	}
}
