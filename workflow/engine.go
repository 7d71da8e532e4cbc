package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/itemloc_backend/config"
	"github.com/mmdatafocus/itemloc_backend/models"
	"github.com/mmdatafocus/itemloc_backend/observability"
	"github.com/mmdatafocus/itemloc_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const moduleName = "itemlocDistribution"

// Engine drives series allocation, adjustment and posting against a Store.
// One engine may serve many goroutines; a single series must not be adjusted concurrently.
type Engine struct {
	store            models.Store
	seq              models.SequenceService
	logger           *logrus.Logger
	metrics          *observability.Metrics
	locker           SeriesLocker
	tracer           trace.Tracer
	lotSerialControl bool
	debug            bool
	now              func() time.Time
}

type Option func(*Engine)

func WithLogger(logger *logrus.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSequence issues series ids from seq instead of the store.
func WithSequence(seq models.SequenceService) Option {
	return func(e *Engine) { e.seq = seq }
}

func WithSeriesLocker(l SeriesLocker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithLotSerialControl(enabled bool) Option {
	return func(e *Engine) { e.lotSerialControl = enabled }
}

func WithDebug(enabled bool) Option {
	return func(e *Engine) { e.debug = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store models.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            store,
		seq:              store,
		logger:           config.GetLogger(),
		locker:           noopSeriesLocker{},
		tracer:           otel.Tracer("itemloc-distribution"),
		lotSerialControl: config.LotSerialControlEnabled(),
		debug:            config.DebugItemlocDist(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	if e.locker == nil {
		e.locker = noopSeriesLocker{}
	}
	return e
}

// IsRejected reports whether an adjustment or posting outcome is Rejected.
// Every non-nil error is; callers own cleanup of the series.
func IsRejected(err error) bool {
	return err != nil
}

func withCorrelationId(ctx context.Context) (context.Context, string) {
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok && id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return utils.SetCorrelationIdInContext(ctx, id), id
}

func (e *Engine) entry(ctx context.Context, fields logrus.Fields) *logrus.Entry {
	fields["module"] = moduleName
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlation_id"] = id
	}
	return e.logger.WithFields(fields)
}

func (e *Engine) trace(ctx context.Context, field string, msg string, fields logrus.Fields) {
	if !e.debug {
		return
	}
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["field"] = field
	e.entry(ctx, fields).Info(msg)
}

func (e *Engine) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, opts...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// storeErr wraps a store failure unless it already carries a kind.
func storeErr(kind models.ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *models.DistError
	if errors.As(err, &de) {
		return err
	}
	return models.NewDistError(kind, op, "", err)
}

func cancelled(op string, err error) error {
	if err == nil || errors.Is(err, models.ErrCancelled) {
		return &models.DistError{Kind: models.KindCancelled, Op: op, Msg: "Transaction Canceled"}
	}
	return &models.DistError{Kind: models.KindCancelled, Op: op, Msg: "Transaction Canceled", Err: err}
}

func outcomeOf(err error) string {
	if err == nil {
		return "accepted"
	}
	return string(models.KindOf(err))
}
