package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JonMunkholm/segexport/internal/keylock"
	"github.com/JonMunkholm/segexport/internal/logging"
	"github.com/JonMunkholm/segexport/internal/metrics"
	"github.com/JonMunkholm/segexport/internal/segment"
	"github.com/JonMunkholm/segexport/internal/source"
	"github.com/JonMunkholm/segexport/internal/workbook"
)

var (
	// ErrOperationCompleted is returned by Continue once Complete succeeded
	// for the operation. A new Begin is required to export again.
	ErrOperationCompleted = errors.New("operation already completed")

	// ErrInvalidPage is returned for page numbers below 1.
	ErrInvalidPage = source.ErrInvalidPage
)

// State is the lifecycle position of an operation.
type State int

const (
	NotStarted State = iota
	InProgress
	Completed
)

func (s State) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	default:
		return "not_started"
	}
}

// Format is the kind of output Complete produced.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatZip  Format = "zip"
)

// Result is the output of Complete.
type Result struct {
	Format   Format
	Data     []byte
	Segments int
	Entries  int // zip entries, 0 for a single workbook
	FileName string
}

// ContentType returns the MIME type of Data.
func (r *Result) ContentType() string {
	if r.Format == FormatZip {
		return workbook.ZipContentType
	}
	return workbook.ContentType
}

type completeOptions struct {
	forceZip bool
	format   workbook.FormatFunc
}

// CompleteOption adjusts a single Complete call.
type CompleteOption func(*completeOptions)

// WithForceZip returns a zip regardless of the segment count.
func WithForceZip(force bool) CompleteOption {
	return func(o *completeOptions) { o.forceZip = force }
}

// WithFormatter overrides the sheet format hook for one call.
func WithFormatter(fn workbook.FormatFunc) CompleteOption {
	return func(o *completeOptions) { o.format = fn }
}

// Config holds the optional collaborators of an Orchestrator.
type Config struct {
	// Limiter bounds concurrent Complete calls. Nil means unbounded.
	Limiter *Limiter
	// Metrics records lifecycle events. Nil records nothing.
	Metrics *metrics.Metrics
	// Format is the default sheet format hook.
	Format workbook.FormatFunc
	// FileName is the base name of produced files, without extension.
	FileName string
}

// Orchestrator runs the Begin/Continue/Complete/Cleanup lifecycle for one
// Downloader over one segment store. It is safe for concurrent use. Calls
// for one operation run one at a time; calls for different operations do
// not coordinate.
type Orchestrator[ID comparable] struct {
	store   segment.Store[ID]
	dl      Downloader
	limiter *Limiter
	metrics *metrics.Metrics
	format  workbook.FormatFunc
	name    string

	// ops serializes Continue, Complete and Cleanup per operation, so no
	// page is stored once Complete has started.
	ops *keylock.Locks[ID]

	mu     sync.RWMutex
	states map[ID]State
}

// New returns an orchestrator for dl backed by store.
func New[ID comparable](store segment.Store[ID], dl Downloader, cfg Config) *Orchestrator[ID] {
	name := cfg.FileName
	if name == "" {
		name = "export"
	}
	return &Orchestrator[ID]{
		store:   store,
		dl:      dl,
		limiter: cfg.Limiter,
		metrics: cfg.Metrics,
		format:  cfg.Format,
		name:    name,
		ops:     keylock.New[ID](),
		states:  make(map[ID]State),
	}
}

// Begin creates a new operation and runs the downloader's OnBegin hook, if
// any. When the hook fails the operation is cleaned up again.
func (o *Orchestrator[ID]) Begin(ctx context.Context) (ID, error) {
	var zero ID

	id, err := o.store.NewOperation(ctx)
	if err != nil {
		return zero, fmt.Errorf("begin: %w", err)
	}

	if init, ok := o.dl.(Initializer[ID]); ok {
		if err := init.OnBegin(ctx, id); err != nil {
			cleanupErr := o.store.Cleanup(context.WithoutCancel(ctx), id)
			return zero, errors.Join(fmt.Errorf("begin hook: %w", err), cleanupErr)
		}
	}

	o.setState(id, InProgress)
	o.metrics.OperationStarted()
	logging.WithFields(ctx, "operation_id", id).Info("export started")
	return id, nil
}

// Continue queries page pageNumber (1-based) and stores it. A page with
// rows returns (true, rows); an empty page returns (false, 0) and leaves the
// store untouched, which tells the caller to Complete.
func (o *Orchestrator[ID]) Continue(ctx context.Context, id ID, pageNumber int) (bool, int, error) {
	if pageNumber < 1 {
		return false, 0, fmt.Errorf("%w: page %d (pages start at 1)", ErrInvalidPage, pageNumber)
	}
	unlock := o.ops.Lock(id)
	defer unlock()

	if o.State(id) == Completed {
		return false, 0, ErrOperationCompleted
	}

	page, err := o.dl.QueryPage(ctx, pageNumber, o.dl.PageSize())
	if err != nil {
		return false, 0, fmt.Errorf("query page %d: %w", pageNumber, err)
	}

	rows := page.Len()
	if rows == 0 {
		logging.WithFields(ctx, "operation_id", id).Debug("export source exhausted", "page", pageNumber)
		return false, 0, nil
	}

	if err := o.store.Append(ctx, id, page); err != nil {
		return false, 0, fmt.Errorf("store page %d: %w", pageNumber, err)
	}

	o.markInProgress(id)
	o.metrics.SegmentAppended(rows)
	logging.WithFields(ctx, "operation_id", id).Debug("segment stored", "page", pageNumber, "rows", rows)
	return true, rows, nil
}

// Complete assembles every stored segment. Reaching MinZipSegments, or
// WithForceZip, yields a zip of workbooks each covering SegmentsPerEntry
// segments; otherwise one workbook holds all rows. Nothing is returned
// unless the whole output was built. Complete can be repeated and does not
// clean up.
func (o *Orchestrator[ID]) Complete(ctx context.Context, id ID, opts ...CompleteOption) (*Result, error) {
	co := completeOptions{format: o.format}
	for _, opt := range opts {
		opt(&co)
	}

	if o.limiter != nil {
		if err := o.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		defer o.limiter.Release()
	}
	o.metrics.CompleteStarted()
	defer o.metrics.CompleteReleased()

	unlock := o.ops.Lock(id)
	defer unlock()

	log := logging.WithFields(ctx, "operation_id", id)
	start := time.Now()

	count, err := o.store.SegmentCount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}

	var res *Result
	format := string(FormatXLSX)
	if ShouldZip(count, o.dl.MinZipSegments(), co.forceZip) {
		format = string(FormatZip)
		res, err = o.completeZip(ctx, id, count, co.format)
	} else {
		res, err = o.completeWorkbook(ctx, id, count, co.format)
	}
	if err != nil {
		o.metrics.CompleteFinished(format, err, time.Since(start), 0)
		log.Error("export complete failed", "segments", count, "error", err)
		return nil, fmt.Errorf("complete: %w", err)
	}

	o.setState(id, Completed)
	o.metrics.CompleteFinished(format, nil, time.Since(start), len(res.Data))
	log.Info("export completed",
		"format", res.Format,
		"segments", res.Segments,
		"entries", res.Entries,
		"size", humanize.Bytes(uint64(len(res.Data))),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

func (o *Orchestrator[ID]) completeWorkbook(ctx context.Context, id ID, count int, format workbook.FormatFunc) (*Result, error) {
	t, err := o.store.Assemble(ctx, id, 0, 0)
	if err != nil {
		return nil, err
	}
	data, err := workbook.ToWorkbookBytes(t, format)
	if err != nil {
		return nil, err
	}
	return &Result{
		Format:   FormatXLSX,
		Data:     data,
		Segments: count,
		FileName: o.name + ".xlsx",
	}, nil
}

func (o *Orchestrator[ID]) completeZip(ctx context.Context, id ID, count int, format workbook.FormatFunc) (*Result, error) {
	perEntry := o.dl.SegmentsPerEntry()
	windows := Windows(count, perEntry)

	archive := workbook.NewArchive()
	for _, w := range windows {
		t, err := o.store.Assemble(ctx, id, w.Skip, max(perEntry, 1))
		if err != nil {
			return nil, fmt.Errorf("entry %d of %d: %w", w.Index+1, len(windows), err)
		}
		if err := archive.AddWorkbook(o.dl.EntryName(w.Index, len(windows)), t, format); err != nil {
			return nil, err
		}
	}

	data, err := archive.Bytes()
	if err != nil {
		return nil, err
	}
	return &Result{
		Format:   FormatZip,
		Data:     data,
		Segments: count,
		Entries:  len(windows),
		FileName: o.name + ".zip",
	}, nil
}

// Cleanup releases everything stored for id. It is idempotent.
func (o *Orchestrator[ID]) Cleanup(ctx context.Context, id ID) error {
	unlock := o.ops.Lock(id)
	defer unlock()

	if err := o.store.Cleanup(ctx, id); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	o.mu.Lock()
	_, known := o.states[id]
	delete(o.states, id)
	o.mu.Unlock()

	if known {
		o.metrics.CleanedUp()
		logging.WithFields(ctx, "operation_id", id).Info("export cleaned up")
	}
	return nil
}

// Status describes an operation for status endpoints.
type Status struct {
	State    State
	Segments int
	WillZip  bool
}

// Status reports the lifecycle state and stored segment count of id.
func (o *Orchestrator[ID]) Status(ctx context.Context, id ID) (Status, error) {
	count, err := o.store.SegmentCount(ctx, id)
	if err != nil {
		return Status{}, err
	}
	state := o.State(id)
	if state == NotStarted {
		// created by another process sharing the store
		state = InProgress
	}
	return Status{
		State:    state,
		Segments: count,
		WillZip:  ShouldZip(count, o.dl.MinZipSegments(), false),
	}, nil
}

// State returns what this process knows about id. Ids begun elsewhere or
// already cleaned up report NotStarted.
func (o *Orchestrator[ID]) State(id ID) State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.states[id]
}

func (o *Orchestrator[ID]) setState(id ID, s State) {
	o.mu.Lock()
	o.states[id] = s
	o.mu.Unlock()
}

func (o *Orchestrator[ID]) markInProgress(id ID) {
	o.mu.Lock()
	if o.states[id] == NotStarted {
		o.states[id] = InProgress
	}
	o.mu.Unlock()
}
