package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/itemloc_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ScrapInput struct {
	ItemSiteId int             `json:"item_site_id" validate:"required,gt=0"`
	Qty        decimal.Decimal `json:"qty" validate:"gt=0"`
	DocNumber  string          `json:"doc_number" validate:"max=100"`
	Comments   string          `json:"comments"`
	TransDate  time.Time       `json:"trans_date"`
	// PresetLot scraps a lot/serial the user already picked.
	PresetLot        string     `json:"preset_lot"`
	PresetExpiration *time.Time `json:"preset_expiration"`
}

// PostScrap removes Qty of an item site from stock as scrap.
func (e *Engine) PostScrap(ctx context.Context, host InteractionHost, input *ScrapInput) (*models.InvHist, error) {
	ctx, _ = withCorrelationId(ctx)
	ctx, span := e.startSpan(ctx, "PostScrap", trace.WithAttributes(attribute.Int("item_site_id", input.ItemSiteId)))
	hist, err := e.postScrap(ctx, hostOrDefault(host), input)
	endSpan(span, err)
	return hist, err
}

func (e *Engine) postScrap(ctx context.Context, host InteractionHost, input *ScrapInput) (*models.InvHist, error) {
	transType := models.TransTypeScrap
	if err := e.checkInput(ctx, host, input); err != nil {
		return nil, e.rejectInput(transType, err)
	}
	policy, err := e.policyOf(ctx, input.ItemSiteId)
	if err != nil {
		return nil, e.rejectInput(transType, err)
	}
	if err := e.checkQty(ctx, host, policy, input.Qty); err != nil {
		return nil, e.rejectInput(transType, err)
	}

	qty := input.Qty.Neg()
	series, err := e.CreateSeries(ctx, models.NewSeries{
		ItemSiteId: input.ItemSiteId,
		Qty:        qty,
		TransType:  transType,
	})
	if err != nil {
		return nil, e.abandon(ctx, host, transType, series, err)
	}

	controlled := policy.IsControlled(e.lotSerialControl)
	if controlled {
		err := e.AdjustSeries(ctx, series, host, AdjustOptions{
			PresetLot:        input.PresetLot,
			PresetExpiration: input.PresetExpiration,
			SkipFinalPost:    true,
		})
		if err == nil {
			err = e.requireRecords(ctx, series)
		}
		if err != nil {
			return nil, e.abandon(ctx, host, transType, series, err)
		}
	}

	hist, err := e.store.PostInvTrans(ctx, &models.InvTrans{
		ItemSiteId:       input.ItemSiteId,
		TransType:        transType,
		DocNumber:        input.DocNumber,
		Comments:         input.Comments,
		Qty:              qty,
		Series:           series,
		PostDistribution: controlled,
		TransDate:        e.transDate(input.TransDate),
		User:             userOf(ctx),
	})
	if err != nil {
		return nil, e.abandon(ctx, host, transType, series, storeErr(models.KindLedgerWriteFailed, "postScrap", err))
	}
	if hist.Series != series {
		return nil, e.abandon(ctx, host, transType, series, historyMismatch(series, hist.Series))
	}

	e.metrics.Posting(string(transType), outcomeOf(nil))
	e.trace(ctx, "PostScrap", "scrap posted", logrus.Fields{
		"series":       series,
		"item_site_id": input.ItemSiteId,
		"qty":          qty.String(),
		"inv_hist_id":  hist.ID,
	})
	return hist, nil
}
