package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/itemloc_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type TransferInput struct {
	FromItemSiteId int             `json:"from_item_site_id" validate:"required,gt=0"`
	ToItemSiteId   int             `json:"to_item_site_id" validate:"required,gt=0,nefield=FromItemSiteId"`
	Qty            decimal.Decimal `json:"qty" validate:"gt=0"`
	DocNumber      string          `json:"doc_number" validate:"max=100"`
	Comments       string          `json:"comments"`
	TransDate      time.Time       `json:"trans_date"`
}

// PostTransfer moves Qty of an item between two warehouses. Both legs share one
// series; the destination mirrors the lot/serial detail chosen for the source.
func (e *Engine) PostTransfer(ctx context.Context, host InteractionHost, input *TransferInput) ([]*models.InvHist, error) {
	ctx, _ = withCorrelationId(ctx)
	ctx, span := e.startSpan(ctx, "PostTransfer", trace.WithAttributes(
		attribute.Int("from_item_site_id", input.FromItemSiteId),
		attribute.Int("to_item_site_id", input.ToItemSiteId),
	))
	hists, err := e.postTransfer(ctx, hostOrDefault(host), input)
	endSpan(span, err)
	return hists, err
}

func (e *Engine) postTransfer(ctx context.Context, host InteractionHost, input *TransferInput) ([]*models.InvHist, error) {
	transType := models.TransTypeInterWarehouse
	if err := e.checkInput(ctx, host, input); err != nil {
		return nil, e.rejectInput(transType, err)
	}
	from, err := e.policyOf(ctx, input.FromItemSiteId)
	if err != nil {
		return nil, e.rejectInput(transType, err)
	}
	to, err := e.policyOf(ctx, input.ToItemSiteId)
	if err != nil {
		return nil, e.rejectInput(transType, err)
	}
	if from.ItemId != to.ItemId {
		verr := models.NewValidationError("to_item_site_id", "The destination item site holds a different item.")
		notifyInvalid(ctx, host, verr)
		return nil, e.rejectInput(transType, verr)
	}
	if from.WarehouseId == to.WarehouseId {
		verr := models.NewValidationError("to_item_site_id", "You must select a different destination warehouse.")
		notifyInvalid(ctx, host, verr)
		return nil, e.rejectInput(transType, verr)
	}
	if err := e.checkQty(ctx, host, from, input.Qty); err != nil {
		return nil, e.rejectInput(transType, err)
	}

	series, err := e.CreateSeries(ctx, models.NewSeries{
		ItemSiteId: input.FromItemSiteId,
		Qty:        input.Qty.Neg(),
		TransType:  transType,
	})
	if err != nil {
		return nil, e.abandon(ctx, host, transType, series, err)
	}

	fromControlled := from.IsControlled(e.lotSerialControl)
	toControlled := to.IsControlled(e.lotSerialControl)
	if toControlled {
		var sourceDist *int
		if fromControlled {
			id, err := e.sourceLeg(ctx, series, input.FromItemSiteId)
			if err != nil {
				return nil, e.abandon(ctx, host, transType, series, err)
			}
			sourceDist = &id
		}
		_, err := e.CreateSeries(ctx, models.NewSeries{
			ItemSiteId:             input.ToItemSiteId,
			Qty:                    input.Qty,
			TransType:              transType,
			ExistingSeries:         &series,
			ExistingDistributionId: sourceDist,
		})
		if err != nil {
			return nil, e.abandon(ctx, host, transType, series, err)
		}
	}

	controlled := fromControlled || toControlled
	if controlled {
		err := e.AdjustSeries(ctx, series, host, AdjustOptions{SkipFinalPost: true})
		if err == nil {
			err = e.requireRecords(ctx, series)
		}
		if err != nil {
			return nil, e.abandon(ctx, host, transType, series, err)
		}
	}

	hists, err := e.store.PostInterWarehouseTransfer(ctx, &models.TransferTrans{
		FromItemSiteId:   input.FromItemSiteId,
		ToItemSiteId:     input.ToItemSiteId,
		Qty:              input.Qty,
		DocNumber:        input.DocNumber,
		Comments:         input.Comments,
		Series:           series,
		PostDistribution: controlled,
		TransDate:        e.transDate(input.TransDate),
		User:             userOf(ctx),
	})
	if err != nil {
		return nil, e.abandon(ctx, host, transType, series, storeErr(models.KindLedgerWriteFailed, "postTransfer", err))
	}
	if len(hists) != 2 {
		return nil, e.abandon(ctx, host, transType, series, models.NewDistError(models.KindLedgerInconsistency, "postTransfer",
			fmt.Sprintf("transfer posted %d history rows", len(hists)), nil))
	}
	for _, h := range hists {
		if h.Series != series {
			return nil, e.abandon(ctx, host, transType, series, historyMismatch(series, h.Series))
		}
	}

	e.metrics.Posting(string(transType), outcomeOf(nil))
	e.trace(ctx, "PostTransfer", "transfer posted", logrus.Fields{
		"series":            series,
		"from_item_site_id": input.FromItemSiteId,
		"to_item_site_id":   input.ToItemSiteId,
		"qty":               input.Qty.String(),
	})
	return hists, nil
}

// sourceLeg finds the root record of the source item site; there must be exactly one.
func (e *Engine) sourceLeg(ctx context.Context, series int, itemSiteId int) (int, error) {
	recs, err := e.store.ListBySeries(ctx, series)
	if err != nil {
		return 0, storeErr(models.KindStoreFailed, "sourceLeg", err)
	}
	ids := make([]int, 0, 1)
	for _, r := range recs {
		if r.Role == models.DistRoleRoot && r.ItemSiteId == itemSiteId {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) != 1 {
		return 0, models.NewDistError(models.KindLedgerInconsistency, "sourceLeg",
			fmt.Sprintf("expected one source record in series %d, found %d", series, len(ids)), nil)
	}
	return ids[0], nil
}
