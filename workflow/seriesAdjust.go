package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/itemloc_backend/config"
	"github.com/mmdatafocus/itemloc_backend/models"
	"github.com/mmdatafocus/itemloc_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type AdjustOptions struct {
	// PresetLot is a lot/serial the caller already knows, e.g. scrap of a selected lot.
	PresetLot        string
	PresetExpiration *time.Time
	PresetWarranty   *time.Time
	// SkipFinalPost leaves posting to the caller's value-changing transaction.
	SkipFinalPost bool
	// ExpectRecords makes an empty series an inconsistency at the final post.
	ExpectRecords bool
}

// AdjustSeries resolves every record of series, and of the series its lot/serial
// detail spawns, until each is tagged to locations and lot/serial identities, then
// posts the detail unless opts.SkipFinalPost is set. A nil error is Accepted.
//
// AdjustSeries never cleans up after itself; on error the owner of the series calls
// DeleteSeries. Calling it again on a resolved series only repeats the final post.
func (e *Engine) AdjustSeries(ctx context.Context, series int, host InteractionHost, opts AdjustOptions) error {
	ctx, correlationId := withCorrelationId(ctx)
	ctx, span := e.startSpan(ctx, "AdjustSeries", trace.WithAttributes(
		attribute.Int("series", series),
		attribute.String("correlation_id", correlationId),
	))
	start := e.now()

	unlock, err := e.locker.LockSeries(ctx, series)
	if err == nil {
		err = e.adjustSeries(ctx, series, hostOrDefault(host), opts)
		unlock()
	}

	e.metrics.ObserveAdjust(outcomeOf(err), e.now().Sub(start))
	if err != nil && !errors.Is(err, models.ErrCancelled) {
		config.LogError(e.logger, "seriesAdjust.go", "AdjustSeries", "adjust series", series, err)
	}
	e.trace(ctx, "AdjustSeries", "adjust finished", logrus.Fields{
		"series":  series,
		"outcome": outcomeOf(err),
	})
	endSpan(span, err)
	return err
}

type adjustRun struct {
	host     InteractionHost
	opts     AdjustOptions
	policies map[int]*models.ItemSitePolicy
}

func (e *Engine) adjustSeries(ctx context.Context, series int, host InteractionHost, opts AdjustOptions) error {
	run := &adjustRun{host: host, opts: opts, policies: map[int]*models.ItemSitePolicy{}}

	queue := []int{series}
	processed := map[int]bool{}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if processed[current] {
			continue
		}
		processed[current] = true

		if err := ctx.Err(); err != nil {
			return cancelled("adjustSeries", err)
		}
		recs, err := e.store.ListBySeries(ctx, current)
		if err != nil {
			return storeErr(models.KindStoreFailed, "adjustSeries", err)
		}
		for _, rec := range recs {
			if rec.Role == models.DistRoleLocation || rec.Posted {
				continue
			}
			policy, err := e.policyFor(ctx, run, rec.ItemSiteId)
			if err != nil {
				return err
			}
			next, err := e.adjustRecord(ctx, run, rec, policy)
			if err != nil {
				return err
			}
			if next > 0 && !processed[next] {
				queue = append(queue, next)
			}
		}
	}

	if opts.SkipFinalPost {
		return nil
	}
	return e.finalPost(ctx, series, opts.ExpectRecords)
}

func (e *Engine) policyFor(ctx context.Context, run *adjustRun, itemSiteId int) (*models.ItemSitePolicy, error) {
	if p, ok := run.policies[itemSiteId]; ok {
		return p, nil
	}
	p, err := e.store.GetItemSitePolicy(ctx, itemSiteId)
	if err != nil {
		return nil, storeErr(models.KindStoreFailed, "adjustSeries", err)
	}
	run.policies[itemSiteId] = p
	return p, nil
}

// adjustRecord runs the state machine for one record and returns a child series
// that still needs visiting, or 0.
func (e *Engine) adjustRecord(ctx context.Context, run *adjustRun, rec *models.ItemlocDist, policy *models.ItemSitePolicy) (int, error) {
	if rec.Role == models.DistRoleRoot && rec.ReqLotSerial && e.lotSerialControl {
		return e.adjustLotSerialRecord(ctx, run, rec, policy)
	}
	return 0, e.adjustLocationRecord(ctx, run, rec, policy)
}

func (e *Engine) adjustLotSerialRecord(ctx context.Context, run *adjustRun, rec *models.ItemlocDist, policy *models.ItemSitePolicy) (int, error) {
	if res := rec.Resolution(); res.IsResolved() {
		if res.State == models.ResolutionHasChildren {
			return res.ChildSeries, nil
		}
		return 0, nil
	}

	childSeries, how, err := e.assignLotSerial(ctx, run, rec, policy)
	if err != nil {
		return 0, err
	}
	e.trace(ctx, "AdjustSeries", "lot/serial resolved", logrus.Fields{
		"distribution_id": rec.ID,
		"child_series":    childSeries,
		"via":             how,
	})

	next := 0
	if policy.LocationControl {
		next = childSeries
	} else {
		n, err := e.store.SetSeriesSource(ctx, childSeries, models.SourceTypeLocation, models.NoLocation)
		if err != nil {
			return 0, storeErr(models.KindLedgerWriteFailed, "adjustLotSerialRecord", err)
		}
		if n == 0 {
			return 0, models.NewDistError(models.KindLedgerInconsistency, "adjustLotSerialRecord",
				fmt.Sprintf("child series %d of distribution %d holds no lot/serial detail", childSeries, rec.ID), nil)
		}
	}

	n, err := e.store.SetResolution(ctx, rec.ID, models.HasChildren(childSeries))
	if err != nil {
		return 0, storeErr(models.KindLedgerWriteFailed, "adjustLotSerialRecord", err)
	}
	if n != 1 {
		return 0, models.NewDistError(models.KindLedgerInconsistency, "adjustLotSerialRecord",
			fmt.Sprintf("distribution %d could not be stamped with child series %d", rec.ID, childSeries), nil)
	}
	return next, nil
}

// assignLotSerial picks the first way of resolving identities that applies: a
// preset value, the source leg's detail, the auto sequence, then the host.
func (e *Engine) assignLotSerial(ctx context.Context, run *adjustRun, rec *models.ItemlocDist, policy *models.ItemSitePolicy) (int, string, error) {
	one := decimal.NewFromInt(1)

	if run.opts.PresetLot != "" && (!policy.IsSerial() || rec.Qty.Abs().Equal(one)) {
		child, err := e.assignPreset(ctx, run, rec, policy)
		return child, "preset", err
	}

	if rec.SourceDistId != nil && *rec.SourceDistId > 0 {
		child, ok, err := e.mirrorSourceDetail(ctx, rec)
		if err != nil {
			return 0, "", err
		}
		if ok {
			return child, "source", nil
		}
	}

	if policy.HasAutoSequence() && !policy.Perishable && !policy.WarrantyRequired &&
		!models.AutoLotSerialExcluded(rec.TransType) &&
		!(policy.IsSerial() && utils.HasFraction(rec.Qty)) {
		child, err := e.assignAutoSequence(ctx, rec, policy)
		return child, "sequence", err
	}

	child, err := e.resolveLotSerial(ctx, rec, policy, run.host)
	return child, "host", err
}

func (e *Engine) nextChildSeries(ctx context.Context, op string) (int, error) {
	child, err := e.seq.NextSeriesId(ctx)
	if err != nil {
		config.LogError(e.logger, "seriesAdjust.go", op, "NextSeriesId", nil, err)
		return 0, models.NewDistError(models.KindAllocationFailed, op, "could not read the series sequence", err)
	}
	return child, nil
}

func (e *Engine) writeDetail(ctx context.Context, op string, params models.CreateLotSerialParams) error {
	if _, err := e.store.CreateLotSerialDetail(ctx, params); err != nil {
		config.LogError(e.logger, "seriesAdjust.go", op, "CreateLotSerialDetail", params.Number, err)
		return storeErr(models.KindLedgerWriteFailed, op, err)
	}
	return nil
}

func (e *Engine) assignPreset(ctx context.Context, run *adjustRun, rec *models.ItemlocDist, policy *models.ItemSitePolicy) (int, error) {
	number := utils.NormalizeLotSerial(run.opts.PresetLot)
	expiration := run.opts.PresetExpiration
	if !rec.IsWithdrawal() && policy.Perishable && expiration == nil {
		return 0, models.NewValidationError("expiration", "You must enter an expiration date for this perishable item.")
	}
	if expiration == nil {
		end := models.EndOfTime
		expiration = &end
	}

	lotSerialId := 0
	existing, err := e.store.FindLotSerial(ctx, policy.ItemId, number)
	if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		return 0, storeErr(models.KindStoreFailed, "assignPreset", err)
	}
	if existing != nil {
		if policy.IsSerial() && !rec.IsWithdrawal() {
			inUse, err := e.store.SerialInUse(ctx, policy.ItemId, existing.ID, 0)
			if err != nil {
				return 0, storeErr(models.KindStoreFailed, "assignPreset", err)
			}
			if inUse {
				return 0, &models.DistError{Kind: models.KindDuplicateIdentity, Op: "assignPreset", Field: "lot_serial",
					Msg: fmt.Sprintf("Serial number %s already exists for item %s.", number, policy.ItemNumber)}
			}
		}
		lotSerialId = existing.ID
	}

	child, err := e.nextChildSeries(ctx, "assignPreset")
	if err != nil {
		return 0, err
	}
	return child, e.writeDetail(ctx, "assignPreset", models.CreateLotSerialParams{
		Parent:      rec,
		ChildSeries: child,
		Number:      number,
		LotSerialId: lotSerialId,
		Qty:         rec.Qty,
		Expiration:  expiration,
		Warranty:    run.opts.PresetWarranty,
	})
}

// mirrorSourceDetail copies the lot/serial detail of the other leg onto rec at the
// opposite sign. ok is false when the source leg has no resolved detail yet.
func (e *Engine) mirrorSourceDetail(ctx context.Context, rec *models.ItemlocDist) (int, bool, error) {
	source, err := e.store.GetDistribution(ctx, *rec.SourceDistId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr(models.KindStoreFailed, "mirrorSourceDetail", err)
	}
	res := source.Resolution()
	if res.State != models.ResolutionHasChildren {
		return 0, false, nil
	}

	recs, err := e.store.ListBySeries(ctx, res.ChildSeries)
	if err != nil {
		return 0, false, storeErr(models.KindStoreFailed, "mirrorSourceDetail", err)
	}
	details := make([]*models.ItemlocDist, 0, len(recs))
	sum := decimal.Zero
	for _, d := range recs {
		if d.Role == models.DistRoleLotSerial && d.ParentId != nil && *d.ParentId == source.ID && d.LotSerialId != nil {
			details = append(details, d)
			sum = sum.Add(d.Qty)
		}
	}
	if len(details) == 0 {
		return 0, false, nil
	}
	if !sum.Neg().Equal(rec.Qty) {
		return 0, false, models.NewDistError(models.KindLedgerInconsistency, "mirrorSourceDetail",
			fmt.Sprintf("source distribution %d carries %s, distribution %d needs %s", source.ID, sum.String(), rec.ID, rec.Qty.Neg().String()), nil)
	}

	child, err := e.nextChildSeries(ctx, "mirrorSourceDetail")
	if err != nil {
		return 0, false, err
	}
	for _, d := range details {
		err := e.writeDetail(ctx, "mirrorSourceDetail", models.CreateLotSerialParams{
			Parent:      rec,
			ChildSeries: child,
			LotSerialId: *d.LotSerialId,
			Qty:         d.Qty.Neg(),
			Expiration:  d.Expiration,
			Warranty:    d.Warranty,
		})
		if err != nil {
			return 0, false, err
		}
	}
	return child, true, nil
}

func (e *Engine) assignAutoSequence(ctx context.Context, rec *models.ItemlocDist, policy *models.ItemSitePolicy) (int, error) {
	child, err := e.nextChildSeries(ctx, "assignAutoSequence")
	if err != nil {
		return 0, err
	}
	end := models.EndOfTime

	units := []decimal.Decimal{rec.Qty}
	if policy.IsSerial() {
		units = units[:0]
		unit := utils.WithSignOf(decimal.NewFromInt(1), rec.Qty)
		for i := int64(0); i < rec.Qty.Abs().IntPart(); i++ {
			units = append(units, unit)
		}
	}
	for _, qty := range units {
		number, lotSerialId, err := e.nextSequencedNumber(ctx, rec, policy)
		if err != nil {
			return 0, err
		}
		err = e.writeDetail(ctx, "assignAutoSequence", models.CreateLotSerialParams{
			Parent:      rec,
			ChildSeries: child,
			Number:      number,
			LotSerialId: lotSerialId,
			Qty:         qty,
			Expiration:  &end,
		})
		if err != nil {
			return 0, err
		}
	}
	return child, nil
}

// maxSequenceSkips bounds how many taken serial numbers are passed over before
// the sequence is given up on.
const maxSequenceSkips = 50

// nextSequencedNumber draws from the item site's sequence. Serial receipts pass over
// numbers that are on hand or already being received.
func (e *Engine) nextSequencedNumber(ctx context.Context, rec *models.ItemlocDist, policy *models.ItemSitePolicy) (string, int, error) {
	seqId := *policy.LotSerialSequenceId
	for i := 0; i <= maxSequenceSkips; i++ {
		raw, err := e.store.NextLotSerialNumber(ctx, seqId)
		if err != nil {
			config.LogError(e.logger, "seriesAdjust.go", "nextSequencedNumber", "NextLotSerialNumber", seqId, err)
			return "", 0, models.NewDistError(models.KindAllocationFailed, "assignAutoSequence", "could not read the lot/serial sequence", err)
		}
		number := utils.NormalizeLotSerial(raw)
		if rec.IsWithdrawal() {
			return number, 0, nil
		}

		existing, err := e.store.FindLotSerial(ctx, policy.ItemId, number)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return number, 0, nil
		}
		if err != nil {
			return "", 0, storeErr(models.KindStoreFailed, "assignAutoSequence", err)
		}
		if !policy.IsSerial() {
			return number, existing.ID, nil
		}
		inUse, err := e.store.SerialInUse(ctx, policy.ItemId, existing.ID, 0)
		if err != nil {
			return "", 0, storeErr(models.KindStoreFailed, "assignAutoSequence", err)
		}
		if !inUse {
			return number, existing.ID, nil
		}
		e.trace(ctx, "AdjustSeries", "sequenced serial already taken", logrus.Fields{
			"distribution_id": rec.ID,
			"lot_serial":      number,
		})
	}
	return "", 0, &models.DistError{Kind: models.KindDuplicateIdentity, Op: "assignAutoSequence", Field: "lot_serial",
		Msg: fmt.Sprintf("Sequence %d issued %d serial numbers that already exist for item %s.", seqId, maxSequenceSkips+1, policy.ItemNumber)}
}

// adjustLocationRecord handles records that need no lot/serial identity: roots of
// location-only item sites and lot/serial detail waiting for locations.
func (e *Engine) adjustLocationRecord(ctx context.Context, run *adjustRun, rec *models.ItemlocDist, policy *models.ItemSitePolicy) error {
	if rec.Resolution().IsResolved() {
		return nil
	}

	if !policy.LocationControl {
		if err := e.store.SetDistributionSource(ctx, rec.ID, models.SourceTypeLocation, models.NoLocation); err != nil {
			return storeErr(models.KindLedgerWriteFailed, "adjustLocationRecord", err)
		}
		return e.stampTerminal(ctx, rec)
	}

	remaining, err := e.remainingToDistribute(ctx, rec)
	if err != nil {
		return err
	}
	if remaining.IsZero() && rec.Qty.IsPositive() && rec.Role == models.DistRoleRoot {
		return nil
	}

	if !remaining.IsZero() {
		class := models.ClassifyTrans(rec.TransType, rec.OrderType)
		mode := DistributeInteractive
		if policy.AutoDistFor(class) {
			mode = DistributeDefaultAndPost
		}
		err = e.distributeLocation(ctx, rec.ID, mode, class, run.host)
		if errors.Is(err, errNoDefaultLocation) {
			e.trace(ctx, "AdjustSeries", "default location unusable, asking the host", logrus.Fields{
				"distribution_id": rec.ID,
			})
			err = e.distributeLocation(ctx, rec.ID, DistributeInteractive, class, run.host)
		}
		if err != nil {
			return err
		}
	}

	if rec.Qty.IsNegative() || rec.Role == models.DistRoleLotSerial {
		return e.stampTerminal(ctx, rec)
	}
	return nil
}

func (e *Engine) stampTerminal(ctx context.Context, rec *models.ItemlocDist) error {
	n, err := e.store.SetResolution(ctx, rec.ID, models.Terminal())
	if err != nil {
		return storeErr(models.KindLedgerWriteFailed, "stampTerminal", err)
	}
	if n != 1 {
		return models.NewDistError(models.KindLedgerInconsistency, "stampTerminal",
			fmt.Sprintf("distribution %d could not be marked resolved", rec.ID), nil)
	}
	return nil
}

func (e *Engine) finalPost(ctx context.Context, series int, expectRecords bool) error {
	recs, err := e.store.ListBySeries(ctx, series)
	if err != nil {
		return storeErr(models.KindStoreFailed, "finalPost", err)
	}
	if len(recs) == 0 {
		if expectRecords {
			return models.NewDistError(models.KindLedgerInconsistency, "finalPost",
				fmt.Sprintf("series %d holds no distribution records", series), nil)
		}
		return nil
	}
	unposted := 0
	for _, r := range recs {
		if !r.Posted {
			unposted++
		}
	}
	if unposted == 0 {
		return nil
	}

	n, err := e.store.PostDistributionDetail(ctx, series)
	if err != nil {
		config.LogError(e.logger, "seriesAdjust.go", "finalPost", "PostDistributionDetail", series, err)
		return storeErr(models.KindLedgerWriteFailed, "finalPost", err)
	}
	if n == 0 {
		return models.NewDistError(models.KindLedgerInconsistency, "finalPost",
			fmt.Sprintf("posting series %d affected no records", series), nil)
	}
	e.trace(ctx, "AdjustSeries", "series posted", logrus.Fields{"series": series, "records": n})
	return nil
}
