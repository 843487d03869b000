// Package dispatch orchestrates broadcast runs: batching, pacing,
// per-recipient personalization and partial-failure bookkeeping.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wablast/wablast/internal/contacts"
	"github.com/wablast/wablast/internal/message"
	"github.com/wablast/wablast/internal/phone"
	"github.com/wablast/wablast/internal/ratelimit"
	"github.com/wablast/wablast/internal/ultramsg"
)

// State is the engine lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// ErrNotConfigured means the engine has no transport to send through.
var ErrNotConfigured = errors.New("dispatch: transport not configured")

// Transport is the provider client surface the engine drives.
type Transport interface {
	SendChat(ctx context.Context, to, body string) (*ultramsg.Response, error)
	SendImage(ctx context.Context, to, imageURL, caption string) (*ultramsg.Response, error)
	Upload(ctx context.Context, data []byte, filename, mimeType string) (string, error)
}

// Limiter gates individual sends. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error)
}

// Recorder receives dispatch outcome counts (metrics hook).
type Recorder interface {
	RecordSent()
	RecordFailed(reason string)
	RecordUpload()
}

// Options configure a run.
type Options struct {
	BatchSize   int
	Concurrency int  // >1 switches batches to the bounded worker pool
	DryRun      bool // render and preview only, no network calls

	// OnResult, when set, observes each result as it is recorded.
	OnResult func(Result)
}

// Result is the outcome for one recipient.
type Result struct {
	Ref      string `json:"ref"`
	Phone    string `json:"phone"`
	OK       bool   `json:"ok"`
	Preview  string `json:"preview,omitempty"` // rendered body/caption
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorEntry is one line of the run's error log.
type ErrorEntry struct {
	Ref     string `json:"ref"`
	Message string `json:"message"`
}

// Report is the terminal output of a run.
type Report struct {
	RunID   string       `json:"run_id"`
	State   State        `json:"state"`
	DryRun  bool         `json:"dry_run"`
	Sent    int          `json:"sent"`
	Errored int          `json:"errored"`
	Results []Result     `json:"results"`
	Errors  []ErrorEntry `json:"errors,omitempty"`
}

// Engine runs broadcasts against a Transport.
type Engine struct {
	transport Transport
	pacer     *ratelimit.Pacer
	limiter   Limiter
	recorder  Recorder
	logger    *slog.Logger
	opts      Options

	state atomic.Value // State
}

// New creates an engine. Limiter and recorder may be nil.
func New(transport Transport, pacer *ratelimit.Pacer, limiter Limiter, recorder Recorder, logger *slog.Logger, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if pacer == nil {
		pacer = ratelimit.NewPacer(0, 0)
	}
	e := &Engine{
		transport: transport,
		pacer:     pacer,
		limiter:   limiter,
		recorder:  recorder,
		logger:    logger.With("component", "dispatch"),
		opts:      opts,
	}
	e.state.Store(StateIdle)
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return e.state.Load().(State)
}

// RunText broadcasts a personalized text message to every recipient.
func (e *Engine) RunText(ctx context.Context, recipients []contacts.Recipient, template string) (*Report, error) {
	send := func(ctx context.Context, rec contacts.Recipient, body string) (*ultramsg.Response, error) {
		return e.transport.SendChat(ctx, rec.Phone, body)
	}
	return e.run(ctx, recipients, template, send)
}

// RunImage broadcasts an image by remote URL with a personalized
// caption. The same media reference is shared by every recipient.
func (e *Engine) RunImage(ctx context.Context, recipients []contacts.Recipient, mediaURL, captionTemplate string) (*Report, error) {
	send := func(ctx context.Context, rec contacts.Recipient, caption string) (*ultramsg.Response, error) {
		return e.transport.SendImage(ctx, rec.Phone, mediaURL, caption)
	}
	return e.run(ctx, recipients, captionTemplate, send)
}

// RunImageUpload uploads the image once, then broadcasts the returned
// URL. An upload failure aborts the run before any send is attempted.
func (e *Engine) RunImageUpload(ctx context.Context, recipients []contacts.Recipient, image []byte, filename, mimeType, captionTemplate string) (*Report, error) {
	if e.opts.DryRun {
		// No network calls at all in test mode, the upload included.
		return e.run(ctx, recipients, captionTemplate, nil)
	}

	if e.transport == nil {
		e.state.Store(StateAborted)
		return nil, ErrNotConfigured
	}

	mediaURL, err := e.transport.Upload(ctx, image, filename, mimeType)
	if err != nil {
		e.state.Store(StateAborted)
		return nil, fmt.Errorf("upload media: %w", err)
	}
	if e.recorder != nil {
		e.recorder.RecordUpload()
	}
	e.logger.Info("media uploaded", "url", mediaURL, "bytes", len(image))

	return e.RunImage(ctx, recipients, mediaURL, captionTemplate)
}

type sendFn func(ctx context.Context, rec contacts.Recipient, rendered string) (*ultramsg.Response, error)

func (e *Engine) run(ctx context.Context, recipients []contacts.Recipient, template string, send sendFn) (*Report, error) {
	if !e.opts.DryRun && e.transport == nil {
		e.state.Store(StateAborted)
		return nil, ErrNotConfigured
	}

	e.state.Store(StateRunning)

	report := &Report{
		RunID:   uuid.New().String(),
		DryRun:  e.opts.DryRun,
		Results: make([]Result, 0, len(recipients)),
	}

	batches := Batches(recipients, e.opts.BatchSize)
	e.logger.Info("run started",
		"run_id", report.RunID,
		"recipients", len(recipients),
		"batches", len(batches),
		"batch_size", e.opts.BatchSize,
		"dry_run", e.opts.DryRun,
	)

	for i, batch := range batches {
		if e.opts.Concurrency > 1 && !e.opts.DryRun {
			e.runBatchPool(ctx, batch, template, send, report)
		} else {
			e.runBatchSequential(ctx, batch, template, send, report)
		}

		// Pause between batches, never after the last one.
		if i < len(batches)-1 {
			e.logger.Debug("batch done, pausing", "run_id", report.RunID, "batch", i+1)
			e.pacer.AfterBatch(ctx)
		}
	}

	e.state.Store(StateCompleted)
	e.logger.Info("run completed",
		"run_id", report.RunID,
		"sent", report.Sent,
		"errored", report.Errored,
	)

	report.State = StateCompleted
	return report, nil
}

// runBatchSequential processes one batch in order, one in-flight
// request at a time, pausing after every attempted send.
func (e *Engine) runBatchSequential(ctx context.Context, batch []contacts.Recipient, template string, send sendFn, report *Report) {
	for _, rec := range batch {
		res, attempted := e.processOne(ctx, rec, template, send)
		e.record(report, res)
		if attempted {
			e.pacer.AfterMessage(ctx)
		}
	}
}

// runBatchPool processes one batch through the bounded worker pool,
// collecting results in completion order.
func (e *Engine) runBatchPool(ctx context.Context, batch []contacts.Recipient, template string, send sendFn, report *Report) {
	results := ultramsg.Broadcast(ctx, batch, e.opts.Concurrency, func(ctx context.Context, rec contacts.Recipient) (*ultramsg.Response, error) {
		if err := e.gate(ctx, rec); err != nil {
			return nil, err
		}
		return send(ctx, rec, message.Render(template, rec))
	})

	for _, br := range results {
		res := Result{
			Ref:     br.Recipient.Ref(),
			Phone:   br.Phone,
			Preview: message.Render(template, br.Recipient),
		}
		if br.Err != nil {
			res.Error = br.Err.Error()
		} else {
			res.OK = true
			if br.Response != nil {
				res.Response = br.Response.Raw
			}
		}
		e.record(report, res)
	}
}

// gate rejects a recipient before any request is made: unusable phone
// or a rate-limit denial.
func (e *Engine) gate(ctx context.Context, rec contacts.Recipient) error {
	num, err := phone.Normalize(rec.Phone)
	if err != nil {
		return fmt.Errorf("invalid phone %q: %w", rec.Phone, err)
	}

	if e.limiter != nil {
		res, err := e.limiter.Allow(ctx, &ratelimit.Request{Recipient: num.Wire()})
		if err != nil {
			return fmt.Errorf("rate limit check: %w", err)
		}
		if !res.Allowed {
			return fmt.Errorf("rate limit exceeded (%s), retry after %s", res.DeniedBy, res.RetryAfter.Round(0))
		}
	}

	return nil
}

// processOne handles a single recipient. The second return value
// reports whether a send (or preview) was actually performed, which
// controls per-message pacing; gated recipients do not pause the run.
func (e *Engine) processOne(ctx context.Context, rec contacts.Recipient, template string, send sendFn) (Result, bool) {
	res := Result{
		Ref:   rec.Ref(),
		Phone: rec.Phone,
	}

	if _, err := phone.Normalize(rec.Phone); err != nil {
		res.Error = fmt.Sprintf("invalid phone %q: %v", rec.Phone, err)
		return res, false
	}

	rendered := message.Render(template, rec)
	res.Preview = rendered

	if e.opts.DryRun {
		res.OK = true
		e.logger.Info("would send", "to", res.Ref, "body", rendered)
		return res, true
	}

	if err := e.gate(ctx, rec); err != nil {
		res.Error = err.Error()
		return res, false
	}

	resp, err := send(ctx, rec, rendered)
	if err != nil {
		res.Error = err.Error()
		e.logger.Debug("send failed", "to", res.Ref, "error", err)
		return res, true
	}

	res.OK = true
	if resp != nil {
		res.Response = resp.Raw
	}
	e.logger.Debug("sent", "to", res.Ref)
	return res, true
}

// record appends a result to the report and updates the counters. The
// report is only touched from the collecting goroutine, so runs stay
// race-free even in pool mode.
func (e *Engine) record(report *Report, res Result) {
	report.Results = append(report.Results, res)

	if res.OK {
		report.Sent++
		if e.recorder != nil && !report.DryRun {
			e.recorder.RecordSent()
		}
	} else {
		report.Errored++
		report.Errors = append(report.Errors, ErrorEntry{Ref: res.Ref, Message: res.Error})
		if e.recorder != nil && !report.DryRun {
			e.recorder.RecordFailed(res.Error)
		}
	}

	if e.opts.OnResult != nil {
		e.opts.OnResult(res)
	}
}

// Batches partitions recipients into contiguous slices of at most
// size, preserving order with no gaps or overlaps.
func Batches(recipients []contacts.Recipient, size int) [][]contacts.Recipient {
	if len(recipients) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(recipients)
	}

	batches := make([][]contacts.Recipient, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		batches = append(batches, recipients[start:end])
	}
	return batches
}
