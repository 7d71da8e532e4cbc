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

// InvTransInput is a single-site issue or receipt. Qty is signed: negative issues.
type InvTransInput struct {
	ItemSiteId  int              `json:"item_site_id" validate:"required,gt=0"`
	TransType   models.TransType `json:"trans_type" validate:"required,len=2"`
	OrderType   models.OrderType `json:"order_type" validate:"omitempty,oneof=SO PO WO TO RA"`
	OrderId     *int             `json:"order_id"`
	OrderNumber string           `json:"order_number" validate:"max=100"`
	Qty         decimal.Decimal  `json:"qty" validate:"ne=0"`
	DocNumber   string           `json:"doc_number" validate:"max=100"`
	Comments    string           `json:"comments"`
	TransDate   time.Time        `json:"trans_date"`

	PresetLot        string     `json:"preset_lot"`
	PresetExpiration *time.Time `json:"preset_expiration"`
	PresetWarranty   *time.Time `json:"preset_warranty"`
}

// PostIssueReceipt posts a generic issue or receipt with its distribution detail
// in one transaction.
func (e *Engine) PostIssueReceipt(ctx context.Context, host InteractionHost, input *InvTransInput) (*models.InvHist, error) {
	ctx, _ = withCorrelationId(ctx)
	ctx, span := e.startSpan(ctx, "PostIssueReceipt", trace.WithAttributes(
		attribute.Int("item_site_id", input.ItemSiteId),
		attribute.String("trans_type", string(input.TransType)),
	))
	hist, err := e.postIssueReceipt(ctx, hostOrDefault(host), input)
	endSpan(span, err)
	return hist, err
}

func (e *Engine) postIssueReceipt(ctx context.Context, host InteractionHost, input *InvTransInput) (*models.InvHist, error) {
	transType := input.TransType
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

	series, err := e.CreateSeries(ctx, models.NewSeries{
		ItemSiteId:  input.ItemSiteId,
		Qty:         input.Qty,
		OrderType:   input.OrderType,
		TransType:   transType,
		OrderId:     input.OrderId,
		OrderNumber: input.OrderNumber,
	})
	if err != nil {
		return nil, e.abandon(ctx, host, transType, series, err)
	}

	controlled := policy.IsControlled(e.lotSerialControl)
	if controlled {
		err := e.AdjustSeries(ctx, series, host, AdjustOptions{
			PresetLot:        input.PresetLot,
			PresetExpiration: input.PresetExpiration,
			PresetWarranty:   input.PresetWarranty,
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
		OrderType:        input.OrderType,
		DocNumber:        input.DocNumber,
		Comments:         input.Comments,
		Qty:              input.Qty,
		Series:           series,
		PostDistribution: controlled,
		TransDate:        e.transDate(input.TransDate),
		User:             userOf(ctx),
	})
	if err != nil {
		return nil, e.abandon(ctx, host, transType, series, storeErr(models.KindLedgerWriteFailed, "postIssueReceipt", err))
	}
	if hist.Series != series {
		return nil, e.abandon(ctx, host, transType, series, historyMismatch(series, hist.Series))
	}

	e.metrics.Posting(string(transType), outcomeOf(nil))
	e.trace(ctx, "PostIssueReceipt", "transaction posted", logrus.Fields{
		"series":       series,
		"item_site_id": input.ItemSiteId,
		"trans_type":   transType,
		"qty":          input.Qty.String(),
	})
	return hist, nil
}
