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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type DistributeMode int

const (
	// DistributeDefault tags the remaining quantity to the item site's default location.
	DistributeDefault DistributeMode = iota
	// DistributeDefaultAndPost does the same and checks the record is fully distributed.
	DistributeDefaultAndPost
	// DistributeInteractive asks the host for location picks.
	DistributeInteractive
)

func (m DistributeMode) String() string {
	switch m {
	case DistributeDefault:
		return "default"
	case DistributeDefaultAndPost:
		return "default_and_post"
	}
	return "interactive"
}

// errNoDefaultLocation means automatic distribution cannot run; interactive can.
var errNoDefaultLocation = errors.New("no usable default location")

// DistributeLocation tags the undistributed quantity of one record to locations.
// Picks are written as location records under the distribution in its own series.
func (e *Engine) DistributeLocation(ctx context.Context, distId int, mode DistributeMode, class models.TransClass, host InteractionHost) error {
	ctx, span := e.startSpan(ctx, "DistributeLocation", trace.WithAttributes(
		attribute.Int("distribution_id", distId),
		attribute.String("mode", mode.String()),
	))
	err := e.distributeLocation(ctx, distId, mode, class, hostOrDefault(host))
	if errors.Is(err, errNoDefaultLocation) {
		err = &models.DistError{Kind: models.KindValidationFailed, Op: "distributeLocation", Field: "location",
			Msg: "The item site has no usable default location.", Err: err}
	}
	endSpan(span, err)
	return err
}

func (e *Engine) distributeLocation(ctx context.Context, distId int, mode DistributeMode, class models.TransClass, host InteractionHost) error {
	dist, err := e.store.GetDistribution(ctx, distId)
	if err != nil {
		return storeErr(models.KindStoreFailed, "distributeLocation", err)
	}
	policy, err := e.store.GetItemSitePolicy(ctx, dist.ItemSiteId)
	if err != nil {
		return storeErr(models.KindStoreFailed, "distributeLocation", err)
	}

	switch mode {
	case DistributeDefault, DistributeDefaultAndPost:
		if err := e.distributeDefault(ctx, dist, policy, class, host); err != nil {
			return err
		}
		if mode == DistributeDefaultAndPost {
			remaining, err := e.remainingToDistribute(ctx, dist)
			if err != nil {
				return err
			}
			if !remaining.IsZero() {
				return models.NewDistError(models.KindLedgerInconsistency, "distributeLocation",
					fmt.Sprintf("distribution %d has %s remaining to distribute", dist.ID, remaining.String()), nil)
			}
		}
		return nil
	}
	return e.distributeInteractive(ctx, dist, policy, host)
}

func (e *Engine) remainingToDistribute(ctx context.Context, dist *models.ItemlocDist) (decimal.Decimal, error) {
	tagged, err := e.store.SumChildQty(ctx, dist.ID)
	if err != nil {
		return decimal.Zero, storeErr(models.KindStoreFailed, "distributeLocation", err)
	}
	return dist.Qty.Sub(tagged), nil
}

func (e *Engine) distributeDefault(ctx context.Context, dist *models.ItemlocDist, policy *models.ItemSitePolicy, class models.TransClass, host InteractionHost) error {
	remaining, err := e.remainingToDistribute(ctx, dist)
	if err != nil || remaining.IsZero() {
		return err
	}

	locationId := policy.DefaultLocationFor(class)
	if locationId <= 0 {
		return errNoDefaultLocation
	}
	loc, err := e.store.GetLocation(ctx, locationId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return errNoDefaultLocation
	}
	if err != nil {
		return storeErr(models.KindStoreFailed, "distributeDefault", err)
	}
	if !loc.Active || loc.WarehouseId != policy.WarehouseId {
		return errNoDefaultLocation
	}

	if remaining.IsNegative() {
		if err := e.checkShortage(ctx, dist, locationId, remaining, host); err != nil {
			return err
		}
	}

	if err := e.writePick(ctx, dist, models.SourceTypeLocation, locationId, remaining); err != nil {
		return err
	}
	e.trace(ctx, "DistributeLocation", "distributed to default location", logrus.Fields{
		"distribution_id": dist.ID,
		"location_id":     locationId,
		"qty":             remaining.String(),
	})
	return nil
}

// checkShortage asks the host to accept a withdrawal larger than what the location
// holds. qty is signed.
func (e *Engine) checkShortage(ctx context.Context, dist *models.ItemlocDist, locationId int, qty decimal.Decimal, host InteractionHost) error {
	avail, err := e.store.QtyAvailableAtLocation(ctx, dist.ItemSiteId, locationId, utils.DereferencePtr(dist.LotSerialId))
	if err != nil {
		return storeErr(models.KindStoreFailed, "checkShortage", err)
	}
	if !avail.LessThan(qty.Abs()) {
		return nil
	}
	ok := host.Confirm(ctx, Prompt{
		Kind:         PromptShortage,
		Message:      fmt.Sprintf("There is only %s available at this location to cover %s. Do you want to continue?", avail.String(), qty.Abs().String()),
		Distribution: dist,
	})
	if !ok {
		return models.NewDistError(models.KindAvailabilityInsufficient, "checkShortage",
			fmt.Sprintf("%s available at location %d, %s required", avail.String(), locationId, qty.Abs().String()), models.ErrCancelled)
	}
	return nil
}

func (e *Engine) writePick(ctx context.Context, parent *models.ItemlocDist, sourceType models.SourceType, sourceId int, qty decimal.Decimal) error {
	parentId := parent.ID
	src := sourceId
	pick := &models.ItemlocDist{
		Series:      parent.Series,
		Role:        models.DistRoleLocation,
		ItemSiteId:  parent.ItemSiteId,
		ParentId:    &parentId,
		Qty:         qty,
		OrderType:   parent.OrderType,
		OrderId:     parent.OrderId,
		OrderNumber: parent.OrderNumber,
		TransType:   parent.TransType,
		InvHistId:   parent.InvHistId,
		SourceType:  sourceType,
		SourceId:    &src,
		LotSerialId: parent.LotSerialId,
		Expiration:  parent.Expiration,
		Warranty:    parent.Warranty,
	}
	pick.ApplyResolution(models.Terminal())
	if err := e.store.CreateDistribution(ctx, pick); err != nil {
		config.LogError(e.logger, "locationDistributor.go", "writePick", "CreateDistribution", pick, err)
		return models.NewDistError(models.KindLedgerWriteFailed, "writePick", "could not write the location distribution", err)
	}
	return nil
}

// resolvedPick is a validated pick ready to write.
type resolvedPick struct {
	sourceType models.SourceType
	sourceId   int
	locationId int
	qty        decimal.Decimal
}

func (e *Engine) distributeInteractive(ctx context.Context, dist *models.ItemlocDist, policy *models.ItemSitePolicy, host InteractionHost) error {
	query := models.LocationQuery{
		ItemSiteId:     dist.ItemSiteId,
		DistributionId: dist.ID,
		LotSerialId:    utils.DereferencePtr(dist.LotSerialId),
		IncludeEmpty:   dist.Qty.IsPositive(),
	}

	for {
		remaining, err := e.remainingToDistribute(ctx, dist)
		if err != nil {
			return err
		}
		if remaining.IsZero() {
			return nil
		}

		candidates, err := e.store.ListItemLocations(ctx, query)
		if err != nil {
			return storeErr(models.KindStoreFailed, "distributeInteractive", err)
		}
		split, err := host.DistributeLocations(ctx, LocationPrompt{
			Distribution: dist,
			Policy:       policy,
			Query:        query,
			Candidates:   candidates,
			Remaining:    remaining,
		})
		if err != nil || split == nil {
			return cancelled("distributeInteractive", err)
		}
		if split.Query != nil {
			query = *split.Query
			query.ItemSiteId = dist.ItemSiteId
			query.DistributionId = dist.ID
			continue
		}
		if len(split.Picks) == 0 {
			host.Notify(ctx, Notice{Level: NoticeWarning, Field: "qty", Message: "You must completely distribute the quantity."})
			continue
		}

		picks, err := e.checkPicks(ctx, dist, policy, split.Picks, remaining)
		if err != nil {
			if models.IsRecoverable(err) {
				notifyInvalid(ctx, host, err)
				continue
			}
			return err
		}
		if dist.IsWithdrawal() {
			// one confirmation per short location, picks at the same bin count together
			byLocation := map[int]decimal.Decimal{}
			order := make([]int, 0, len(picks))
			for _, p := range picks {
				if _, ok := byLocation[p.locationId]; !ok {
					order = append(order, p.locationId)
				}
				byLocation[p.locationId] = byLocation[p.locationId].Add(p.qty)
			}
			for _, locationId := range order {
				if err := e.checkShortage(ctx, dist, locationId, byLocation[locationId], host); err != nil {
					return err
				}
			}
		}
		for _, p := range picks {
			if err := e.writePick(ctx, dist, p.sourceType, p.sourceId, p.qty); err != nil {
				return err
			}
		}
		e.trace(ctx, "DistributeLocation", "location picks written", logrus.Fields{
			"distribution_id": dist.ID,
			"picks":           len(picks),
		})

		left, err := e.remainingToDistribute(ctx, dist)
		if err != nil {
			return err
		}
		if !left.IsZero() {
			host.Notify(ctx, Notice{Level: NoticeInfo, Field: "qty",
				Message: fmt.Sprintf("%s remains to be distributed.", left.Abs().String())})
		}
	}
}

// checkPicks validates a whole answer before anything is written.
func (e *Engine) checkPicks(ctx context.Context, dist *models.ItemlocDist, policy *models.ItemSitePolicy, picks []LocationPick, remaining decimal.Decimal) ([]resolvedPick, error) {
	out := make([]resolvedPick, 0, len(picks))
	total := decimal.Zero
	for _, p := range picks {
		qty := p.Qty.Abs()
		if qty.IsZero() {
			return nil, models.NewValidationError("qty", "You must enter a quantity for each location.")
		}
		if !policy.Fractional && utils.HasFraction(qty) {
			return nil, models.NewValidationError("qty", "Item %s is not fractional. Enter a whole quantity.", policy.ItemNumber)
		}

		rp := resolvedPick{qty: utils.WithSignOf(qty, dist.Qty)}
		itemLocId := p.ItemLocId
		if p.Barcode != "" {
			number := utils.NormalizeLotSerial(p.Barcode)
			il, err := e.store.FindItemLocByLotSerial(ctx, policy.WarehouseId, policy.ItemId, number)
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return nil, models.NewValidationError("barcode", "No match found for %s.", number)
			}
			if err != nil {
				return nil, storeErr(models.KindStoreFailed, "checkPicks", err)
			}
			itemLocId = il.ID
		}

		switch {
		case itemLocId > 0:
			il, err := e.store.GetItemLoc(ctx, itemLocId)
			if errors.Is(err, utils.ErrorRecordNotFound) || (err == nil && il.ItemSiteId != dist.ItemSiteId) {
				return nil, models.NewValidationError("location", "The selected stock does not belong to item %s at this site.", policy.ItemNumber)
			}
			if err != nil {
				return nil, storeErr(models.KindStoreFailed, "checkPicks", err)
			}
			if dist.LotSerialId != nil && il.LotSerialId != *dist.LotSerialId {
				return nil, models.NewValidationError("location", "The selected stock holds a different Lot/Serial.")
			}
			rp.sourceType, rp.sourceId, rp.locationId = models.SourceTypeItemLoc, il.ID, il.LocationId
		case p.LocationId > 0:
			loc, err := e.store.GetLocation(ctx, p.LocationId)
			if errors.Is(err, utils.ErrorRecordNotFound) || (err == nil && (loc.WarehouseId != policy.WarehouseId || !loc.Active)) {
				return nil, models.NewValidationError("location", "Location %d is not an active location of this warehouse.", p.LocationId)
			}
			if err != nil {
				return nil, storeErr(models.KindStoreFailed, "checkPicks", err)
			}
			rp.sourceType, rp.sourceId, rp.locationId = models.SourceTypeLocation, loc.ID, loc.ID
		default:
			return nil, models.NewValidationError("location", "You must select a location.")
		}

		total = total.Add(qty)
		out = append(out, rp)
	}
	if total.GreaterThan(remaining.Abs()) {
		return nil, models.NewValidationError("qty", "The quantity %s exceeds the %s remaining to distribute.", total.String(), remaining.Abs().String())
	}
	return out, nil
}
