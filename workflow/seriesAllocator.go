package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/itemloc_backend/config"
	"github.com/mmdatafocus/itemloc_backend/models"
	"github.com/mmdatafocus/itemloc_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CreateSeries returns the series for a movement and writes its root distribution
// record when the item site is controlled. Uncontrolled item sites get a series and
// no record. When the root insert fails the series is still returned so the caller
// can clean up.
func (e *Engine) CreateSeries(ctx context.Context, input models.NewSeries) (int, error) {
	ctx, span := e.startSpan(ctx, "CreateSeries", trace.WithAttributes(
		attribute.Int("item_site_id", input.ItemSiteId),
		attribute.String("trans_type", string(input.TransType)),
	))
	series, err := e.createSeries(ctx, input)
	span.SetAttributes(attribute.Int("series", series))
	endSpan(span, err)
	return series, err
}

func (e *Engine) createSeries(ctx context.Context, input models.NewSeries) (int, error) {
	if field, err := utils.ValidateStruct(&input); err != nil {
		return 0, &models.DistError{Kind: models.KindValidationFailed, Op: "createSeries", Field: field, Msg: err.Error()}
	}

	policy, err := e.store.GetItemSitePolicy(ctx, input.ItemSiteId)
	if err != nil {
		config.LogError(e.logger, "seriesAllocator.go", "CreateSeries", "GetItemSitePolicy", input.ItemSiteId, err)
		return 0, models.NewDistError(models.KindAllocationFailed, "createSeries", "item site not found", err)
	}

	series := 0
	if input.ExistingSeries != nil && *input.ExistingSeries > 0 {
		series = *input.ExistingSeries
	} else {
		series, err = e.seq.NextSeriesId(ctx)
		if err == nil && series <= 0 {
			err = fmt.Errorf("sequence returned %d", series)
		}
		if err != nil {
			config.LogError(e.logger, "seriesAllocator.go", "CreateSeries", "NextSeriesId", input.ItemSiteId, err)
			return 0, models.NewDistError(models.KindAllocationFailed, "createSeries", "could not read the series sequence", err)
		}
	}

	controlled := policy.IsControlled(e.lotSerialControl)
	if !controlled {
		e.metrics.SeriesCreated(false)
		return series, nil
	}

	reqLotSerial := e.lotSerialControl && policy.IsLotSerial()
	root := &models.ItemlocDist{
		Series:        series,
		Role:          models.DistRoleRoot,
		ItemSiteId:    input.ItemSiteId,
		SourceDistId:  input.ExistingDistributionId,
		Qty:           input.Qty,
		OrderType:     input.OrderType,
		OrderId:       input.OrderId,
		OrderNumber:   input.OrderNumber,
		TransType:     input.TransType,
		InvHistId:     input.InvHistId,
		ReqLotSerial:  reqLotSerial,
		DistLotSerial: reqLotSerial && input.Qty.IsNegative(),
	}
	root.ApplyResolution(models.Unresolved())
	if err := e.store.CreateDistribution(ctx, root); err != nil {
		config.LogError(e.logger, "seriesAllocator.go", "CreateSeries", "CreateDistribution", root, err)
		return series, models.NewDistError(models.KindLedgerWriteFailed, "createSeries", "could not write the distribution record", err)
	}

	e.metrics.SeriesCreated(true)
	e.trace(ctx, "CreateSeries", "series allocated", logrus.Fields{
		"series":       series,
		"item_site_id": input.ItemSiteId,
		"trans_type":   input.TransType,
		"root_id":      root.ID,
	})
	return series, nil
}

// DeleteSeries retracts a series. force also removes lot/serial detail created for it.
func (e *Engine) DeleteSeries(ctx context.Context, series int, force bool) error {
	if series <= 0 {
		return nil
	}
	ctx, span := e.startSpan(ctx, "DeleteSeries", trace.WithAttributes(attribute.Int("series", series)))
	err := e.store.DeleteSeries(ctx, series, force)
	if err != nil {
		config.LogError(e.logger, "seriesAllocator.go", "DeleteSeries", "DeleteSeries", series, err)
		var de *models.DistError
		if !errors.As(err, &de) {
			err = models.NewDistError(models.KindLedgerWriteFailed, "deleteSeries", "", err)
		}
	}
	e.metrics.Cleanup(force, err)
	endSpan(span, err)
	return err
}
