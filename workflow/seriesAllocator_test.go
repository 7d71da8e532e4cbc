package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/itemloc_backend/models"
)

type fixedSequence struct {
	next int
	err  error
}

func (s *fixedSequence) NextSeriesId(ctx context.Context) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.next++
	return s.next, nil
}

func TestCreateSeriesUncontrolled(t *testing.T) {
	f := newFixture(t)
	site := f.store.AddItemSite(models.ItemSite{ItemId: f.item("NAIL").ID, WarehouseId: 1})

	series := f.createSeries(t, models.NewSeries{ItemSiteId: site.ID, Qty: qty(-2), TransType: models.TransTypeScrap})
	if series <= 0 {
		t.Fatalf("expected a series, got %d", series)
	}
	if n := len(f.store.Distributions()); n != 0 {
		t.Fatalf("uncontrolled item site wrote %d records", n)
	}
	if got := counterValue(t, f.reg, "itemloc_test_series_created_total", map[string]string{"controlled": "false"}); got != 1 {
		t.Fatalf("created_total{controlled=false} = %v", got)
	}
}

func TestCreateSeriesWritesRoot(t *testing.T) {
	f := newFixture(t)
	site := f.store.AddItemSite(models.ItemSite{ItemId: f.item("OIL").ID, WarehouseId: 1, ControlMethod: models.ControlMethodLot})
	orderId := 77

	series := f.createSeries(t, models.NewSeries{
		ItemSiteId: site.ID, Qty: qty(-4), TransType: models.TransTypeShip,
		OrderType: models.OrderTypeSales, OrderId: &orderId, OrderNumber: "SO-5",
	})
	root := f.root(t, series)
	if root.Role != models.DistRoleRoot || !root.Qty.Equal(qty(-4)) || root.ItemSiteId != site.ID {
		t.Fatalf("unexpected root %+v", root)
	}
	if !root.ReqLotSerial || !root.DistLotSerial {
		t.Fatalf("lot withdrawal should require and distribute lot/serial")
	}
	if root.Resolution().IsResolved() || root.ChildSeries != nil || root.ParentId != nil {
		t.Fatalf("new root must be unresolved with no parent")
	}
	if root.OrderNumber != "SO-5" || *root.OrderId != orderId || root.TransType != models.TransTypeShip {
		t.Fatalf("order fields not carried: %+v", root)
	}
	if got := counterValue(t, f.reg, "itemloc_test_series_created_total", map[string]string{"controlled": "true"}); got != 1 {
		t.Fatalf("created_total{controlled=true} = %v", got)
	}
}

func TestCreateSeriesValidation(t *testing.T) {
	f := newFixture(t)
	site := f.store.AddItemSite(models.ItemSite{ItemId: f.item("PIPE").ID, WarehouseId: 1, LocationControl: true})

	cases := map[string]struct {
		input models.NewSeries
		field string
	}{
		"zero qty":      {models.NewSeries{ItemSiteId: site.ID, TransType: models.TransTypeScrap}, "qty"},
		"no item site":  {models.NewSeries{Qty: qty(1), TransType: models.TransTypeScrap}, "item_site_id"},
		"no trans type": {models.NewSeries{ItemSiteId: site.ID, Qty: qty(1)}, "trans_type"},
		"negative site": {models.NewSeries{ItemSiteId: -3, Qty: qty(1), TransType: models.TransTypeScrap}, "item_site_id"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.CreateSeries(ctxWithUser(), tc.input)
			requireKind(t, err, models.KindValidationFailed)
			var de *models.DistError
			if !errors.As(err, &de) || de.Field != tc.field {
				t.Fatalf("expected field %q, got %v", tc.field, err)
			}
		})
	}
	if n := len(f.store.Distributions()); n != 0 {
		t.Fatalf("invalid input wrote %d records", n)
	}
}

func TestCreateSeriesFailures(t *testing.T) {
	t.Run("unknown item site", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.CreateSeries(ctxWithUser(), models.NewSeries{ItemSiteId: 404, Qty: qty(1), TransType: models.TransTypeScrap})
		requireKind(t, err, models.KindAllocationFailed)
	})

	t.Run("sequence down", func(t *testing.T) {
		f := newFixture(t)
		site := f.store.AddItemSite(models.ItemSite{ItemId: f.item("PIPE").ID, WarehouseId: 1, LocationControl: true})
		f.store.FailOn("NextSeriesId", errors.New("sequence down"))
		series, err := f.engine.CreateSeries(ctxWithUser(), models.NewSeries{ItemSiteId: site.ID, Qty: qty(1), TransType: models.TransTypeScrap})
		requireKind(t, err, models.KindAllocationFailed)
		if series != 0 {
			t.Fatalf("no series should be returned, got %d", series)
		}
	})

	t.Run("root write fails", func(t *testing.T) {
		f := newFixture(t)
		site := f.store.AddItemSite(models.ItemSite{ItemId: f.item("PIPE").ID, WarehouseId: 1, LocationControl: true})
		f.store.FailOn("CreateDistribution", errors.New("disk full"))
		series, err := f.engine.CreateSeries(ctxWithUser(), models.NewSeries{ItemSiteId: site.ID, Qty: qty(1), TransType: models.TransTypeScrap})
		requireKind(t, err, models.KindLedgerWriteFailed)
		if series <= 0 {
			t.Fatalf("the series must be returned for cleanup")
		}
	})

	t.Run("sequence returns zero", func(t *testing.T) {
		f := newFixture(t, WithSequence(&fixedSequence{next: -1}))
		site := f.store.AddItemSite(models.ItemSite{ItemId: f.item("PIPE").ID, WarehouseId: 1, LocationControl: true})
		_, err := f.engine.CreateSeries(ctxWithUser(), models.NewSeries{ItemSiteId: site.ID, Qty: qty(1), TransType: models.TransTypeScrap})
		requireKind(t, err, models.KindAllocationFailed)
	})
}

func TestCreateSeriesJoinsExistingSeries(t *testing.T) {
	f := newFixture(t, WithSequence(&fixedSequence{next: 999}))
	from := f.store.AddItemSite(models.ItemSite{ItemId: f.item("PIPE").ID, WarehouseId: 1, LocationControl: true})
	to := f.store.AddItemSite(models.ItemSite{ItemId: from.ItemId, WarehouseId: 2, LocationControl: true})

	series := f.createSeries(t, models.NewSeries{ItemSiteId: from.ID, Qty: qty(-1), TransType: models.TransTypeInterWarehouse})
	if series != 1000 {
		t.Fatalf("expected the custom sequence to issue 1000, got %d", series)
	}
	source := f.root(t, series)
	second := f.createSeries(t, models.NewSeries{
		ItemSiteId: to.ID, Qty: qty(1), TransType: models.TransTypeInterWarehouse,
		ExistingSeries: &series, ExistingDistributionId: &source.ID,
	})
	if second != series {
		t.Fatalf("second leg got series %d, want %d", second, series)
	}
	roots := f.distsByRole(models.DistRoleRoot)
	if len(roots) != 2 || roots[1].Series != series || *roots[1].SourceDistId != source.ID {
		t.Fatalf("unexpected roots %+v", roots)
	}
}

func TestCreateSeriesWithLotSerialControlOff(t *testing.T) {
	f := newFixture(t, WithLotSerialControl(false))
	lotOnly := f.store.AddItemSite(models.ItemSite{ItemId: f.item("GRAIN").ID, WarehouseId: 1, ControlMethod: models.ControlMethodLot})
	lotAndBin := f.store.AddItemSite(models.ItemSite{ItemId: f.item("SEED").ID, WarehouseId: 1, ControlMethod: models.ControlMethodLot, LocationControl: true})

	f.createSeries(t, models.NewSeries{ItemSiteId: lotOnly.ID, Qty: qty(1), TransType: models.TransTypeMiscReceipt})
	if n := len(f.store.Distributions()); n != 0 {
		t.Fatalf("lot control is off; lot-only site wrote %d records", n)
	}
	root := f.root(t, f.createSeries(t, models.NewSeries{ItemSiteId: lotAndBin.ID, Qty: qty(-1), TransType: models.TransTypeMiscIssue}))
	if root.ReqLotSerial || root.DistLotSerial {
		t.Fatalf("lot/serial flags set while lot control is off")
	}
}

func TestDeleteSeries(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.DeleteSeries(ctxWithUser(), 0, true); err != nil {
		t.Fatalf("deleting series 0 should be a no-op, got %v", err)
	}

	site := f.store.AddItemSite(models.ItemSite{ItemId: f.item("PIPE").ID, WarehouseId: 1, LocationControl: true})
	series := f.createSeries(t, models.NewSeries{ItemSiteId: site.ID, Qty: qty(1), TransType: models.TransTypeMiscReceipt})
	f.store.FailOn("DeleteSeries", errors.New("connection reset"))
	requireKind(t, f.engine.DeleteSeries(ctxWithUser(), series, false), models.KindLedgerWriteFailed)
	if got := counterValue(t, f.reg, "itemloc_test_series_cleanup_total", map[string]string{"force": "false", "result": "error"}); got != 1 {
		t.Fatalf("cleanup_total{result=error} = %v", got)
	}

	if err := f.engine.DeleteSeries(ctxWithUser(), series, false); err != nil {
		t.Fatalf("DeleteSeries: %v", err)
	}
	if n := len(f.store.Distributions()); n != 0 {
		t.Fatalf("%d records left", n)
	}
}
