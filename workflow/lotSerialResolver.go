package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/itemloc_backend/config"
	"github.com/mmdatafocus/itemloc_backend/models"
	"github.com/mmdatafocus/itemloc_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// errDeclined ends one prompt round without a message; the user is asked again.
var errDeclined = errors.New("declined")

// ResolveLotSerial collects lot/serial identities for dist from the host until its
// whole quantity is assigned, and returns the child series holding the detail.
// Bad answers are reported to the host and asked again; only cancellation and store
// failures end the loop.
func (e *Engine) ResolveLotSerial(ctx context.Context, dist *models.ItemlocDist, host InteractionHost) (int, error) {
	host = hostOrDefault(host)
	policy, err := e.store.GetItemSitePolicy(ctx, dist.ItemSiteId)
	if err != nil {
		return 0, storeErr(models.KindStoreFailed, "resolveLotSerial", err)
	}
	return e.resolveLotSerial(ctx, dist, policy, host)
}

type lotSerialSession struct {
	dist        *models.ItemlocDist
	policy      *models.ItemSitePolicy
	childSeries int
	total       decimal.Decimal
	assigned    decimal.Decimal
	preassigned []*models.PreassignedLotSerial
	onHand      []*models.LotSerialOnHand
	// used tracks quantity assigned per lot/serial in this session.
	used      map[int]decimal.Decimal
	suggested string
}

func (s *lotSerialSession) remaining() decimal.Decimal {
	return s.total.Sub(s.assigned)
}

func (e *Engine) resolveLotSerial(ctx context.Context, dist *models.ItemlocDist, policy *models.ItemSitePolicy, host InteractionHost) (int, error) {
	childSeries, err := e.seq.NextSeriesId(ctx)
	if err != nil {
		config.LogError(e.logger, "lotSerialResolver.go", "resolveLotSerial", "NextSeriesId", dist.ID, err)
		return 0, models.NewDistError(models.KindAllocationFailed, "resolveLotSerial", "could not read the series sequence", err)
	}

	sess := &lotSerialSession{
		dist:        dist,
		policy:      policy,
		childSeries: childSeries,
		total:       dist.Qty.Abs(),
		used:        map[int]decimal.Decimal{},
	}
	sess.preassigned, err = e.store.ListPreassigned(ctx, dist.ItemSiteId, dist.OrderType, dist.OrderNumber)
	if err != nil {
		return 0, storeErr(models.KindStoreFailed, "resolveLotSerial", err)
	}
	if dist.IsWithdrawal() {
		sess.onHand, err = e.store.ListOnHandLotSerials(ctx, dist.ItemSiteId)
		if err != nil {
			return 0, storeErr(models.KindStoreFailed, "resolveLotSerial", err)
		}
	}

	for sess.remaining().IsPositive() {
		if sess.suggested == "" && len(sess.preassigned) == 0 && !dist.IsWithdrawal() && policy.HasAutoSequence() {
			number, err := e.store.NextLotSerialNumber(ctx, *policy.LotSerialSequenceId)
			if err != nil {
				config.LogError(e.logger, "lotSerialResolver.go", "resolveLotSerial", "NextLotSerialNumber", *policy.LotSerialSequenceId, err)
			} else {
				sess.suggested = number
			}
		}

		prompt := LotSerialPrompt{
			Distribution:    dist,
			Policy:          policy,
			Remaining:       sess.remaining(),
			Assigned:        sess.assigned,
			Preassigned:     sess.preassigned,
			OnHand:          sess.onHand,
			SuggestedNumber: sess.suggested,
			FixedQty:        policy.IsSerial(),
		}
		answer, err := host.AssignLotSerial(ctx, prompt)
		if err != nil || answer == nil {
			return 0, cancelled("resolveLotSerial", err)
		}

		params, err := e.checkAssignment(ctx, sess, answer, host)
		if errors.Is(err, errDeclined) {
			continue
		}
		if err != nil {
			if models.IsRecoverable(err) {
				notifyInvalid(ctx, host, err)
				continue
			}
			return 0, err
		}

		created, err := e.store.CreateLotSerialDetail(ctx, *params)
		if err != nil {
			config.LogError(e.logger, "lotSerialResolver.go", "resolveLotSerial", "CreateLotSerialDetail", params.Number, err)
			return 0, models.NewDistError(models.KindLedgerWriteFailed, "resolveLotSerial", "could not write lot/serial detail", err)
		}
		qty := params.Qty.Abs()
		sess.assigned = sess.assigned.Add(qty)
		if created.LotSerialId != nil {
			sess.used[*created.LotSerialId] = sess.used[*created.LotSerialId].Add(qty)
		}
		if params.Number == sess.suggested {
			sess.suggested = ""
		}
		e.trace(ctx, "ResolveLotSerial", "lot/serial assigned", logrus.Fields{
			"series":       dist.Series,
			"child_series": childSeries,
			"number":       params.Number,
			"qty":          params.Qty.String(),
		})
	}
	return childSeries, nil
}

func notifyInvalid(ctx context.Context, host InteractionHost, err error) {
	notice := Notice{Level: NoticeWarning, Message: err.Error()}
	var de *models.DistError
	if errors.As(err, &de) {
		notice.Field = de.Field
		notice.Message = de.Msg
	}
	host.Notify(ctx, notice)
}

// checkAssignment validates one answer and turns it into detail to write.
// Nothing is written here.
func (e *Engine) checkAssignment(ctx context.Context, sess *lotSerialSession, a *LotSerialAssignment, host InteractionHost) (*models.CreateLotSerialParams, error) {
	dist, policy := sess.dist, sess.policy
	number := utils.NormalizeLotSerial(a.Number)
	if number == "" && a.PreassignedDetailId > 0 {
		// picked from the preassigned list by id
		if pre := findPreassigned(sess.preassigned, a.PreassignedDetailId, ""); pre != nil {
			number = pre.Number
		}
	}
	if number == "" {
		return nil, models.NewValidationError("lot_serial", "You must enter a Lot/Serial number.")
	}

	qty := a.Qty.Abs()
	if policy.IsSerial() {
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		if !qty.Equal(decimal.NewFromInt(1)) {
			return nil, models.NewValidationError("qty", "Serial numbers are assigned one unit at a time.")
		}
	}
	if qty.IsZero() {
		return nil, models.NewValidationError("qty", "You must enter a quantity.")
	}
	if !policy.Fractional && utils.HasFraction(qty) {
		return nil, models.NewValidationError("qty", "Item %s is not fractional. Enter a whole quantity.", policy.ItemNumber)
	}
	if qty.GreaterThan(sess.remaining()) {
		return nil, models.NewValidationError("qty", "The quantity %s exceeds the %s remaining to assign.", qty.String(), sess.remaining().String())
	}

	receipt := !dist.IsWithdrawal()
	expiration, warranty := a.Expiration, a.Warranty
	var preassignedId *int
	lotSerialId := 0

	if len(sess.preassigned) > 0 {
		pre := findPreassigned(sess.preassigned, a.PreassignedDetailId, number)
		if pre == nil {
			return nil, models.NewValidationError("lot_serial", "You must select one of the preassigned Lot/Serial numbers.")
		}
		remaining, err := e.store.PreassignedRemaining(ctx, pre.DetailId)
		if err != nil {
			return nil, storeErr(models.KindStoreFailed, "checkAssignment", err)
		}
		if qty.GreaterThan(remaining) {
			return nil, models.NewValidationError("qty", "The quantity %s exceeds the %s preassigned to %s.", qty.String(), remaining.String(), pre.Number)
		}
		id := pre.DetailId
		preassignedId = &id
		lotSerialId = pre.LotSerialId
		number = pre.Number
		if expiration == nil {
			expiration = pre.Expiration
		}
		if warranty == nil {
			warranty = pre.Warranty
		}
	}

	if receipt {
		if policy.Perishable && expiration == nil {
			return nil, models.NewValidationError("expiration", "You must enter an expiration date for this perishable item.")
		}
		if policy.WarrantyRequired && dist.OrderType == models.OrderTypePurchase && warranty == nil {
			return nil, models.NewValidationError("warranty", "You must enter a warranty expiration date for this lot/serial.")
		}
	}
	if expiration == nil {
		end := models.EndOfTime
		expiration = &end
	}

	if utils.ContainsSpace(number) {
		if !host.Confirm(ctx, Prompt{
			Kind:         PromptSpaceInNumber,
			Message:      fmt.Sprintf("The Lot/Serial number %q contains spaces. Do you want to save it anyway?", number),
			Distribution: dist,
		}) {
			return nil, errDeclined
		}
	}

	existing, err := e.store.FindLotSerial(ctx, policy.ItemId, number)
	if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, storeErr(models.KindStoreFailed, "checkAssignment", err)
	}

	if !receipt {
		if existing == nil {
			return nil, models.NewValidationError("lot_serial", "Lot/Serial %s is not on hand for item %s.", number, policy.ItemNumber)
		}
		stock := findOnHand(sess.onHand, existing.ID)
		if stock == nil {
			return nil, models.NewValidationError("lot_serial", "Lot/Serial %s is not on hand for item %s.", number, policy.ItemNumber)
		}
		if qty.GreaterThan(stock.Qty.Sub(sess.used[existing.ID])) {
			return nil, models.NewValidationError("qty", "Only %s of %s is on hand.", stock.Qty.Sub(sess.used[existing.ID]).String(), number)
		}
		if policy.IsSerial() {
			inFlight, err := e.store.SerialInFlight(ctx, policy.ItemId, existing.ID, sess.childSeries)
			if err != nil {
				return nil, storeErr(models.KindStoreFailed, "checkAssignment", err)
			}
			if inFlight {
				return nil, &models.DistError{Kind: models.KindDuplicateIdentity, Op: "checkAssignment", Field: "lot_serial",
					Msg: fmt.Sprintf("Serial number %s is already being distributed.", number)}
			}
		}
		if stock.Expiration != nil {
			expiration = stock.Expiration
		}
		lotSerialId = existing.ID
	} else if existing != nil {
		if policy.IsSerial() {
			inUse, err := e.store.SerialInUse(ctx, policy.ItemId, existing.ID, 0)
			if err != nil {
				return nil, storeErr(models.KindStoreFailed, "checkAssignment", err)
			}
			if inUse {
				return nil, &models.DistError{Kind: models.KindDuplicateIdentity, Op: "checkAssignment", Field: "lot_serial",
					Msg: fmt.Sprintf("Serial number %s already exists for item %s.", number, policy.ItemNumber)}
			}
		} else if preassignedId == nil && sess.used[existing.ID].IsZero() {
			if !host.Confirm(ctx, Prompt{
				Kind:         PromptLotReuse,
				Message:      fmt.Sprintf("Lot number %s already exists for item %s. Do you want to use it?", number, policy.ItemNumber),
				Distribution: dist,
			}) {
				return nil, errDeclined
			}
		}
		lotSerialId = existing.ID
	}

	return &models.CreateLotSerialParams{
		Parent:              dist,
		ChildSeries:         sess.childSeries,
		Number:              number,
		LotSerialId:         lotSerialId,
		Qty:                 utils.WithSignOf(qty, dist.Qty),
		Expiration:          expiration,
		Warranty:            warranty,
		PreassignedDetailId: preassignedId,
	}, nil
}

func findPreassigned(list []*models.PreassignedLotSerial, detailId int, number string) *models.PreassignedLotSerial {
	for _, p := range list {
		if detailId > 0 && p.DetailId == detailId {
			return p
		}
		if detailId == 0 && p.Number == number {
			return p
		}
	}
	return nil
}

func findOnHand(list []*models.LotSerialOnHand, lotSerialId int) *models.LotSerialOnHand {
	for _, s := range list {
		if s.LotSerialId == lotSerialId {
			return s
		}
	}
	return nil
}
