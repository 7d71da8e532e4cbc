package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/itemloc_backend/config"
	"github.com/mmdatafocus/itemloc_backend/models"
	"github.com/mmdatafocus/itemloc_backend/observability"
	"github.com/mmdatafocus/itemloc_backend/utils"
	"github.com/mmdatafocus/itemloc_backend/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// dist-harness runs the reference distribution scenarios against the in-memory store
// with scripted answers and prints what each one did. No database is needed.
//
// Example:
//   go run ./cmd/dist-harness
//   go run ./cmd/dist-harness --scenario=B --debug
func main() {
	var (
		only  = flag.String("scenario", "", "run a single scenario (A, B, C or D)")
		debug = flag.Bool("debug", false, "trace adjustment steps")
	)
	flag.Parse()

	logger := config.GetLogger()
	if *debug {
		logger.SetLevel(logrus.InfoLevel)
	}

	scenarios := []struct {
		name string
		run  func(ctx context.Context, opts []workflow.Option) error
	}{
		{"A", scenarioScrapAutoLot},
		{"B", scenarioSerialTransfer},
		{"C", scenarioDuplicateSerial},
		{"D", scenarioShortageDeclined},
	}

	reg := prometheus.NewRegistry()
	opts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithDebug(*debug),
		workflow.WithLotSerialControl(true),
		workflow.WithMetrics(observability.NewMetrics("dist_harness", reg)),
	}

	fail := 0
	for _, sc := range scenarios {
		if *only != "" && *only != sc.name {
			continue
		}
		ctx := utils.SetCorrelationIdInContext(context.Background(), fmt.Sprintf("dist-harness-%s-%d", sc.name, time.Now().UnixNano()))
		ctx = utils.SetUsernameInContext(ctx, "dist-harness")
		if err := sc.run(ctx, opts); err != nil {
			fail++
			fmt.Printf("scenario %s FAIL: %s\n", sc.name, err.Error())
			continue
		}
		fmt.Printf("scenario %s OK\n", sc.name)
	}
	if fail > 0 {
		os.Exit(1)
	}
}

func qty(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// A: scrap 5 of a lot item numbered by sequence, no location control.
func scenarioScrapAutoLot(ctx context.Context, opts []workflow.Option) error {
	store := models.NewMemStore()
	item := store.AddItem(models.Item{Number: "RESIN-A"})
	seq := store.AddLotSerialSequence(models.LotSerialSequence{Name: "LOT", Prefix: "LOT", Width: 4})
	site := store.AddItemSite(models.ItemSite{
		ItemId: item.ID, WarehouseId: 1, ControlMethod: models.ControlMethodLot, LotSerialSequenceId: &seq.ID,
	})
	lot := store.AddLotSerial(models.LotSerial{ItemId: item.ID, Number: "OPENING"})
	store.AddItemLoc(models.ItemLoc{ItemSiteId: site.ID, LotSerialId: lot.ID, Qty: qty(20)})

	engine := workflow.NewEngine(store, opts...)
	hist, err := engine.PostScrap(ctx, workflow.NewScriptedHost(), &workflow.ScrapInput{ItemSiteId: site.ID, Qty: qty(5)})
	if err != nil {
		return err
	}
	onHand := store.ItemSite(site.ID).QtyOnHand
	fmt.Printf("  series=%d qty_before=%s qty_after=%s lsdetail=%d\n", hist.Series, hist.QtyBefore, hist.QtyAfter, len(store.LotSerialDetails()))
	if !onHand.Equal(qty(15)) {
		return fmt.Errorf("on hand is %s, want 15", onHand)
	}
	return nil
}

// B: transfer 10 serials between two location-controlled warehouses.
func scenarioSerialTransfer(ctx context.Context, opts []workflow.Option) error {
	store := models.NewMemStore()
	item := store.AddItem(models.Item{Number: "PUMP-S"})
	binA := store.AddLocation(models.Location{WarehouseId: 1, Name: "A-01", Active: true, Netable: true, Usable: true})
	binB := store.AddLocation(models.Location{WarehouseId: 2, Name: "B-01", Active: true, Netable: true, Usable: true})
	from := store.AddItemSite(models.ItemSite{
		ItemId: item.ID, WarehouseId: 1, ControlMethod: models.ControlMethodSerial,
		LocationControl: true, LocationId: binA.ID, LocationDist: true,
	})
	to := store.AddItemSite(models.ItemSite{
		ItemId: item.ID, WarehouseId: 2, ControlMethod: models.ControlMethodSerial,
		LocationControl: true, LocationId: binB.ID, LocationDist: true,
	})
	host := workflow.NewScriptedHost()
	for i := 1; i <= 10; i++ {
		number := fmt.Sprintf("SN%03d", i)
		ls := store.AddLotSerial(models.LotSerial{ItemId: item.ID, Number: number})
		store.AddItemLoc(models.ItemLoc{ItemSiteId: from.ID, LocationId: binA.ID, LotSerialId: ls.ID, Qty: qty(1)})
		host.AssignSerials(number)
	}

	engine := workflow.NewEngine(store, opts...)
	hists, err := engine.PostTransfer(ctx, host, &workflow.TransferInput{
		FromItemSiteId: from.ID, ToItemSiteId: to.ID, Qty: qty(10), DocNumber: "TW-1",
	})
	if err != nil {
		return err
	}
	fmt.Printf("  series=%d history=%d from_on_hand=%s to_on_hand=%s to_itemlocs=%d\n", hists[0].Series, len(hists),
		store.ItemSite(from.ID).QtyOnHand, store.ItemSite(to.ID).QtyOnHand, len(store.ItemLocs(to.ID)))
	if len(store.ItemLocs(from.ID)) != 0 || len(store.ItemLocs(to.ID)) != 10 {
		return fmt.Errorf("serials did not move: from=%d to=%d", len(store.ItemLocs(from.ID)), len(store.ItemLocs(to.ID)))
	}
	return nil
}

// C: receiving a serial already on hand elsewhere is refused and asked again.
func scenarioDuplicateSerial(ctx context.Context, opts []workflow.Option) error {
	store := models.NewMemStore()
	item := store.AddItem(models.Item{Number: "METER-S"})
	site := store.AddItemSite(models.ItemSite{ItemId: item.ID, WarehouseId: 1, ControlMethod: models.ControlMethodSerial})
	other := store.AddItemSite(models.ItemSite{ItemId: item.ID, WarehouseId: 2, ControlMethod: models.ControlMethodSerial})
	ls := store.AddLotSerial(models.LotSerial{ItemId: item.ID, Number: "SN100"})
	store.AddItemLoc(models.ItemLoc{ItemSiteId: other.ID, LotSerialId: ls.ID, Qty: qty(1)})

	host := workflow.NewScriptedHost().AssignSerials("SN100", "SN101")
	engine := workflow.NewEngine(store, opts...)
	_, err := engine.PostIssueReceipt(ctx, host, &workflow.InvTransInput{
		ItemSiteId: site.ID, TransType: models.TransTypeMiscReceipt, Qty: qty(1),
	})
	if err != nil {
		return err
	}
	warnings := host.NoticesAt(workflow.NoticeWarning)
	fmt.Printf("  prompts=%d warnings=%d\n", len(host.LotSerialPrompts), len(warnings))
	if len(warnings) != 1 {
		return fmt.Errorf("expected one duplicate warning, got %d", len(warnings))
	}
	return nil
}

// D: a default-location withdrawal beyond what is there, override declined.
func scenarioShortageDeclined(ctx context.Context, opts []workflow.Option) error {
	store := models.NewMemStore()
	item := store.AddItem(models.Item{Number: "BOLT"})
	bin := store.AddLocation(models.Location{WarehouseId: 1, Name: "S-01", Active: true})
	site := store.AddItemSite(models.ItemSite{
		ItemId: item.ID, WarehouseId: 1, LocationControl: true, LocationId: bin.ID, LocationDist: true,
	})
	store.AddItemLoc(models.ItemLoc{ItemSiteId: site.ID, LocationId: bin.ID, Qty: qty(3)})
	before := store.Snapshot()

	host := workflow.NewScriptedHost().Answer(false)
	engine := workflow.NewEngine(store, opts...)
	_, err := engine.PostScrap(ctx, host, &workflow.ScrapInput{ItemSiteId: site.ID, Qty: qty(8)})
	if err == nil {
		return fmt.Errorf("scrap was accepted")
	}
	fmt.Printf("  rejected: kind=%s distributions_left=%d\n", models.KindOf(err), len(store.Distributions()))
	if fmt.Sprint(before) != fmt.Sprint(store.Snapshot()) || len(store.Distributions()) != 0 {
		return fmt.Errorf("store changed after a rejected scrap")
	}
	return nil
}
