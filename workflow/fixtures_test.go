package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/itemloc_backend/models"
	"github.com/mmdatafocus/itemloc_backend/observability"
	"github.com/mmdatafocus/itemloc_backend/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *models.MemStore
	engine *Engine
	reg    *prometheus.Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := models.NewMemStore()
	store.SetClock(func() time.Time { return testNow })
	reg := prometheus.NewRegistry()
	base := []Option{
		WithLotSerialControl(true),
		WithMetrics(observability.NewMetrics("itemloc_test", reg)),
		WithClock(func() time.Time { return testNow }),
	}
	return &fixture{
		store:  store,
		engine: NewEngine(store, append(base, opts...)...),
		reg:    reg,
	}
}

func qty(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) item(number string) *models.Item {
	return f.store.AddItem(models.Item{Number: number})
}

func (f *fixture) bin(warehouseId int, name string) *models.Location {
	return f.store.AddLocation(models.Location{WarehouseId: warehouseId, Name: name, Active: true, Netable: true, Usable: true})
}

func (f *fixture) lot(itemId int, number string) *models.LotSerial {
	return f.store.AddLotSerial(models.LotSerial{ItemId: itemId, Number: number})
}

func (f *fixture) root(t *testing.T, series int) *models.ItemlocDist {
	t.Helper()
	for _, d := range f.store.Distributions() {
		if d.Series == series && d.Role == models.DistRoleRoot {
			d := d
			return &d
		}
	}
	t.Fatalf("series %d has no root record", series)
	return nil
}

func (f *fixture) distsByRole(role models.DistRole) []models.ItemlocDist {
	out := make([]models.ItemlocDist, 0)
	for _, d := range f.store.Distributions() {
		if d.Role == role {
			out = append(out, d)
		}
	}
	return out
}

func (f *fixture) createSeries(t *testing.T, input models.NewSeries) int {
	t.Helper()
	series, err := f.engine.CreateSeries(ctxWithUser(), input)
	if err != nil {
		t.Fatalf("CreateSeries: %v", err)
	}
	return series
}

// requireConserved checks every record with children is fully distributed to them.
func (f *fixture) requireConserved(t *testing.T) {
	t.Helper()
	dists := f.store.Distributions()
	sums := map[int]decimal.Decimal{}
	for _, d := range dists {
		if d.ParentId != nil {
			sums[*d.ParentId] = sums[*d.ParentId].Add(d.Qty)
		}
	}
	for _, d := range dists {
		sum, ok := sums[d.ID]
		if !ok {
			continue
		}
		if !sum.Equal(d.Qty) {
			t.Fatalf("distribution %d: children sum %s, qty %s", d.ID, sum, d.Qty)
		}
	}
}

func requireKind(t *testing.T, err error, kind models.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := models.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

type failingLocker struct{}

func (failingLocker) LockSeries(ctx context.Context, series int) (func(), error) {
	return nil, models.NewDistError(models.KindStoreFailed, "lockSeries", "", errors.New("locked elsewhere"))
}

func ctxWithUser() context.Context {
	return utils.SetUsernameInContext(context.Background(), "test@local")
}

// counterValue reads one counter sample from reg; zero when it was never incremented.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want == lp.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
