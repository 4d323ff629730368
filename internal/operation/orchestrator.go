package operation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sophon-labs/sophon/internal/observability"
	"github.com/sophon-labs/sophon/internal/progress"
	"github.com/sophon-labs/sophon/internal/sophon"
)

// errStop marks a controlled, user-visible stop (failed precondition). Start
// reports it as a successful non-exceptional end after the status string has
// been pushed through the progress sink.
var errStop = errors.New("operation stopped")

// ErrBusy is returned when Start cannot take over from a prior operation.
var ErrBusy = errors.New("operation already starting")

// Options configures an Orchestrator.
type Options struct {
	Client          *http.Client
	Logger          *observability.Logger
	Metrics         *observability.Metrics
	Workers         int
	EventBufferSize int
	Observer        func(progress.Event)
}

// Orchestrator drives the Install / Verify / Update / Predownload pipelines.
// At most one operation is in flight at a time: Start cancels and drains any
// prior operation before beginning.
type Orchestrator struct {
	client   *http.Client
	decoder  *sophon.Decoder
	log      *observability.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	workers  int
	bufSize  int
	observer func(progress.Event)

	mu     sync.Mutex
	phase  Phase
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = observability.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = 100
	}
	return &Orchestrator{
		client:   opts.Client,
		decoder:  sophon.NewDecoder(opts.Client, opts.Logger, opts.Metrics),
		log:      opts.Logger,
		metrics:  opts.Metrics,
		tracer:   otel.Tracer("sophon/operation"),
		workers:  opts.Workers,
		bufSize:  opts.EventBufferSize,
		observer: opts.Observer,
	}
}

// Phase returns the orchestrator's lifecycle state.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Start runs the pipeline selected by opCtx.Kind and blocks until it ends.
// It returns true when the operation completed (including controlled stops
// such as a failed disk admission), false when it was cancelled. Fatal
// errors are returned alongside false and leave the orchestrator in the
// Failed phase until the next Start.
func (o *Orchestrator) Start(ctx context.Context, opCtx Context) (bool, error) {
	o.Cancel()

	o.mu.Lock()
	if o.phase == PhaseRunning {
		o.mu.Unlock()
		return false, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.phase = PhaseRunning
	o.cancel = cancel
	o.done = done
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.OperationActive.Set(1)
	}

	runID := uuid.New().String()
	o.log.OperationStarted(runID, opCtx.Kind.String(), buildTag(opCtx.LocalBuild), buildTag(opCtx.RemoteBuild))
	log := o.log.WithOperation(runID, opCtx.Kind.String())

	tr := progress.NewTracker(o.bufSize, o.observer)
	tr.ReportLifecycle(progress.EventStarted, opCtx.Kind.String())

	started := time.Now()
	err := o.run(runCtx, opCtx, log, tr)

	success := false
	var status string
	switch {
	case err == nil:
		success = true
		status = "completed"
		tr.ReportLifecycle(progress.EventCompleted, "")
	case errors.Is(err, errStop):
		// Controlled stop: the status string already went to the sink.
		success = true
		status = "stopped"
		tr.ReportLifecycle(progress.EventCompleted, err.Error())
		err = nil
	case errors.Is(err, context.Canceled):
		status = "cancelled"
		tr.ReportLifecycle(progress.EventCancelled, "")
		err = nil
	default:
		status = "failed"
		tr.ReportLifecycle(progress.EventFailed, err.Error())
	}
	tr.Close()

	if o.metrics != nil {
		o.metrics.OperationActive.Set(0)
		o.metrics.RecordOperation(opCtx.Kind.String(), status, time.Since(started).Seconds())
	}
	o.log.OperationCompleted(runID, opCtx.Kind.String(), time.Since(started), success)

	o.mu.Lock()
	switch status {
	case "cancelled":
		o.phase = PhaseCancelled
	case "failed":
		o.phase = PhaseFailed
	default:
		o.phase = PhaseCompleted
	}
	o.cancel = nil
	o.done = nil
	o.mu.Unlock()
	cancel()
	close(done)

	return success, err
}

// Cancel requests cancellation of the in-flight operation and waits for it
// to drain. It is a no-op when nothing is running.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (o *Orchestrator) run(ctx context.Context, opCtx Context, log *observability.Logger, tr *progress.Tracker) error {
	switch opCtx.Kind {
	case KindInstall:
		return o.runInstall(ctx, opCtx, log, tr)
	case KindVerify:
		return o.runVerify(ctx, opCtx, log, tr)
	case KindUpdate:
		return o.runUpdate(ctx, opCtx, log, tr)
	case KindPredownload:
		return o.runPredownload(ctx, opCtx, log, tr)
	default:
		return fmt.Errorf("unknown operation kind %d", opCtx.Kind)
	}
}

// stage opens a tracing span around one pipeline stage.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	sctx, span := o.tracer.Start(ctx, name)
	defer span.End()
	return fn(sctx)
}

func buildTag(b *sophon.Build) string {
	if b == nil {
		return ""
	}
	return b.Tag
}
