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
)

// Posters own their series from allocation to posting. Every failure after the
// series exists goes through abandon, which retracts the series and tells the user.

func (e *Engine) checkInput(ctx context.Context, host InteractionHost, input any) error {
	field, err := utils.ValidateStruct(input)
	if err == nil {
		return nil
	}
	verr := &models.DistError{Kind: models.KindValidationFailed, Op: "checkInput", Field: field, Msg: err.Error()}
	host.Notify(ctx, Notice{Level: NoticeWarning, Field: field, Message: verr.Msg})
	return verr
}

func (e *Engine) checkQty(ctx context.Context, host InteractionHost, policy *models.ItemSitePolicy, qty decimal.Decimal) error {
	if policy.Fractional || !utils.HasFraction(qty) {
		return nil
	}
	verr := models.NewValidationError("qty", "Item %s is not fractional. Enter a whole quantity.", policy.ItemNumber)
	notifyInvalid(ctx, host, verr)
	return verr
}

func (e *Engine) policyOf(ctx context.Context, itemSiteId int) (*models.ItemSitePolicy, error) {
	policy, err := e.store.GetItemSitePolicy(ctx, itemSiteId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, &models.DistError{Kind: models.KindValidationFailed, Op: "policyOf", Field: "item_site_id",
			Msg: fmt.Sprintf("Item site %d was not found.", itemSiteId), Err: err}
	}
	if err != nil {
		return nil, storeErr(models.KindStoreFailed, "policyOf", err)
	}
	return policy, nil
}

// requireRecords guards posting a controlled series that lost its records.
func (e *Engine) requireRecords(ctx context.Context, series int) error {
	recs, err := e.store.ListBySeries(ctx, series)
	if err != nil {
		return storeErr(models.KindStoreFailed, "requireRecords", err)
	}
	if len(recs) == 0 {
		return models.NewDistError(models.KindLedgerInconsistency, "requireRecords",
			fmt.Sprintf("series %d holds no distribution records", series), nil)
	}
	return nil
}

func (e *Engine) abandon(ctx context.Context, host InteractionHost, transType models.TransType, series int, cause error) error {
	if series > 0 {
		if err := e.DeleteSeries(ctx, series, true); err != nil {
			config.LogError(e.logger, "posting.go", "abandon", "DeleteSeries", series, err)
		}
	}
	if errors.Is(cause, models.ErrCancelled) {
		host.Notify(ctx, Notice{Level: NoticeInfo, Message: "Transaction Canceled"})
	} else {
		config.LogError(e.logger, "posting.go", "abandon", string(transType), series, cause)
		host.Notify(ctx, Notice{Level: NoticeCritical, Message: cause.Error()})
	}
	e.metrics.Posting(string(transType), outcomeOf(cause))
	return cause
}

func (e *Engine) rejectInput(transType models.TransType, err error) error {
	e.metrics.Posting(string(transType), outcomeOf(err))
	return err
}

func (e *Engine) transDate(t time.Time) time.Time {
	if t.IsZero() {
		return e.now()
	}
	return t
}

func userOf(ctx context.Context) string {
	user, _ := utils.GetUsernameFromContext(ctx)
	return user
}

func historyMismatch(series int, got int) error {
	return models.NewDistError(models.KindLedgerInconsistency, "post",
		fmt.Sprintf("posted history belongs to series %d, expected %d", got, series), nil)
}
