package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/thereceipt/silent-print/internal/agent"
	"github.com/thereceipt/silent-print/internal/layout"
	"github.com/thereceipt/silent-print/internal/raster"
)

var (
	// ErrNoPrinter is returned when no printer is selected or resolvable
	ErrNoPrinter = errors.New("no printer selected")

	// ErrNotConnected is returned when the agent session is not open
	ErrNotConnected = agent.ErrNotConnected

	// ErrInvalidPaper is returned for a label layout without a positive page size
	ErrInvalidPaper = errors.New("paper width/height must be greater than 0")

	// ErrBusy is returned while another print of the same dispatcher runs
	ErrBusy = errors.New("a print is already in progress")
)

// SubmitError reports a submission that stopped part way. Pages already
// delivered stay printed.
type SubmitError struct {
	Delivered int
	Total     int
	Err       error
}

func (e *SubmitError) Error() string {
	if e.Delivered == 0 {
		return fmt.Sprintf("print failed: %v", e.Err)
	}
	return fmt.Sprintf("print failed after %d of %d pages: %v", e.Delivered, e.Total, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Phase is a step of a print action
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseValidating   Phase = "validating"
	PhaseCapturing    Phase = "capturing"
	PhaseBuildingJobs Phase = "building-jobs"
	PhaseSubmitting   Phase = "submitting"
	PhaseSucceeded    Phase = "succeeded"
	PhaseFailed       Phase = "failed"
)

// Agent is the part of the connection manager the dispatcher drives
type Agent interface {
	Status() agent.Status
	Printer() string
	EnsureReady(ctx context.Context) (string, error)
	Print(ctx context.Context, printer string, cfg agent.PrintConfig, data []agent.PrintData) (agent.PrintResult, error)
}

// Capturer rasterizes a target
type Capturer interface {
	Capture(ctx context.Context, target raster.Target, scale float64) (*raster.Image, error)
}

// LayoutStore persists label layouts after a successful print
type LayoutStore interface {
	SaveLayout(s layout.Settings) error
	ClearLayout() error
}

// LabelRequest is one label print
type LabelRequest struct {
	Target   raster.Target
	Settings layout.Settings
	// Printer defaults to the connection manager's selection
	Printer      string
	SaveSettings bool
}

// Result describes a completed print
type Result struct {
	Printer string
	Jobs    []PrintJob
	JobIDs  []string
}

// Dispatcher runs print actions one at a time
type Dispatcher struct {
	agent   Agent
	capture Capturer
	store   LayoutStore
	logger  *zap.Logger
	onState func(Phase, error)
	busy    atomic.Bool
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithStateHook is called on every phase change. The error is set only
// for PhaseFailed.
func WithStateHook(fn func(Phase, error)) Option {
	return func(d *Dispatcher) {
		d.onState = fn
	}
}

// New creates a dispatcher. store may be nil.
func New(a Agent, c Capturer, store LayoutStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		agent:   a,
		capture: c,
		store:   store,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Busy reports whether a print is in progress
func (d *Dispatcher) Busy() bool {
	return d.busy.Load()
}

// PrintLabel prints a single label page with the layout's geometry.
func (d *Dispatcher) PrintLabel(ctx context.Context, req LabelRequest) (res *Result, err error) {
	if !d.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer d.busy.Store(false)
	defer func() { d.finish(err) }()

	d.setPhase(PhaseValidating)

	printer := req.Printer
	if printer == "" {
		printer = d.agent.Printer()
	}
	if printer == "" {
		return nil, ErrNoPrinter
	}
	if d.agent.Status().State != agent.StateConnected {
		return nil, ErrNotConnected
	}

	settings := req.Settings.Normalize()
	if !settings.Paper().Valid() {
		return nil, ErrInvalidPaper
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	d.setPhase(PhaseCapturing)
	img, err := d.capture.Capture(ctx, req.Target, settings.PrintScale())
	if err != nil {
		return nil, err
	}

	d.setPhase(PhaseBuildingJobs)
	job, err := NewLabelJob(printer, settings, img)
	if err != nil {
		return nil, err
	}

	d.setPhase(PhaseSubmitting)
	res, err = d.submit(ctx, printer, []PrintJob{job})
	if err != nil {
		return nil, err
	}

	d.persist(req)
	return res, nil
}

// PrintReceipt prints a receipt of arbitrary length, slicing it into pages
// no taller than MaxPageHeightMM.
func (d *Dispatcher) PrintReceipt(ctx context.Context, target raster.Target) (res *Result, err error) {
	if !d.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer d.busy.Store(false)
	defer func() { d.finish(err) }()

	d.setPhase(PhaseValidating)
	printer, err := d.agent.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}

	d.setPhase(PhaseCapturing)
	img, err := d.capture.Capture(ctx, target, 1)
	if err != nil {
		return nil, err
	}

	d.setPhase(PhaseBuildingJobs)
	jobs, err := ReceiptJobs(printer, img)
	if err != nil {
		return nil, err
	}

	d.setPhase(PhaseSubmitting)
	return d.submit(ctx, printer, jobs)
}

// ReceiptJobs builds the page jobs for a captured receipt
func ReceiptJobs(printer string, img *raster.Image) ([]PrintJob, error) {
	widthMM, heightMM := receiptSize(img)
	if !needsSlicing(heightMM) {
		return []PrintJob{receiptJob(printer, widthMM, heightMM, img.Data)}, nil
	}

	slices, err := SliceImage(img, SliceRows(img.Oversampling))
	if err != nil {
		return nil, fmt.Errorf("failed to slice receipt: %w", err)
	}

	jobs := make([]PrintJob, 0, len(slices))
	for _, s := range slices {
		jobs = append(jobs, receiptJob(printer, widthMM, s.HeightMM(), s.Image.Data))
	}
	return jobs, nil
}

// submit sends jobs strictly in order, stopping at the first failure
func (d *Dispatcher) submit(ctx context.Context, printer string, jobs []PrintJob) (*Result, error) {
	res := &Result{Printer: printer, Jobs: jobs}

	for i, job := range jobs {
		out, err := d.agent.Print(ctx, job.Printer, job.Config, job.Payload())
		if err != nil {
			return nil, &SubmitError{Delivered: i, Total: len(jobs), Err: err}
		}
		res.JobIDs = append(res.JobIDs, out.JobID)
		d.logger.Debug("page submitted",
			zap.String("printer", printer),
			zap.Int("page", i+1),
			zap.Int("pages", len(jobs)))
	}

	d.logger.Info("print submitted", zap.String("printer", printer), zap.Int("pages", len(jobs)))
	return res, nil
}

func (d *Dispatcher) persist(req LabelRequest) {
	if d.store == nil {
		return
	}

	var err error
	if req.SaveSettings {
		err = d.store.SaveLayout(req.Settings)
	} else {
		err = d.store.ClearLayout()
	}
	if err != nil {
		d.logger.Warn("failed to update saved layout", zap.Error(err))
	}
}

func (d *Dispatcher) finish(err error) {
	if err != nil {
		d.logger.Warn("print failed", zap.Error(err))
		d.emit(PhaseFailed, err)
	} else {
		d.emit(PhaseSucceeded, nil)
	}
	d.emit(PhaseIdle, nil)
}

func (d *Dispatcher) setPhase(p Phase) {
	d.emit(p, nil)
}

func (d *Dispatcher) emit(p Phase, err error) {
	if d.onState != nil {
		d.onState(p, err)
	}
}
