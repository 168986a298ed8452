package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// Source produces a lazy, finite sequence of candidates for one run.
// Next returns io.EOF when the sequence is exhausted and a *SourceFormatError
// when the underlying payload is structurally unreadable.
type Source[C Candidate] interface {
	Next(ctx context.Context) (C, error)
}

// SourceFormatError is a structural failure: the source cannot be read at
// all. It aborts the whole run, unlike per-record failures.
type SourceFormatError struct {
	Msg string
	Err error
}

func (e *SourceFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *SourceFormatError) Unwrap() error { return e.Err }

// RunState is the lifecycle state of a pipeline run.
type RunState string

const (
	StateNotStarted         RunState = "not_started"
	StateRunning            RunState = "running"
	StateSucceeded          RunState = "succeeded"
	StatePartiallySucceeded RunState = "partially_succeeded"
	StateFailed             RunState = "failed"
)

// RecordError is one failed candidate's message, tagged with its source
// position.
type RecordError struct {
	Ref     string
	Message string
}

func (e RecordError) String() string {
	return fmt.Sprintf("%s: %s", e.Ref, e.Message)
}

// Result aggregates a run's outcome. Mutated additively while the run is in
// flight; callers must treat it as immutable once Run returns.
type Result struct {
	State      RunState
	Processed  int
	Inserted   int
	Updated    int
	Skipped    int
	Failed     int
	Errors     []RecordError
	StartedAt  time.Time
	FinishedAt time.Time
}

// Conserved reports whether every candidate read from the source was
// accounted for: inserted + updated + skipped + failed == processed.
func (r *Result) Conserved() bool {
	return r.Inserted+r.Updated+r.Skipped+r.Failed == r.Processed
}

func (r *Result) record(ref string, out Outcome) {
	switch out.Kind {
	case OutcomeInserted:
		r.Inserted++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
		r.Errors = append(r.Errors, RecordError{Ref: ref, Message: out.Reason})
	}
}

// Pipeline drives candidates of type C through validation, identity
// resolution, and merge, strictly sequentially, one candidate at a time.
// Per-record failures are isolated; only structural source failures abort
// the run.
type Pipeline[C Candidate] struct {
	Source Source[C]

	// Validate returns all field-level problems for a candidate, or nil.
	// A candidate with any hard problem is Failed, with only soft problems
	// Skipped; either way it never reaches Resolve or Apply.
	Validate func(c C) []Problem

	// Resolve attaches an identity resolution. An error (e.g.
	// apperrors.ErrAmbiguousIdentity) fails the record, not the run.
	Resolve func(ctx context.Context, c C) (Resolution, error)

	// Apply commits one candidate and returns its tagged outcome. Apply is
	// responsible for catching persistence failures, rolling back any
	// partial transactional state, and reporting them as Failed outcomes.
	Apply func(ctx context.Context, c C, res Resolution) Outcome

	// FlushSize optionally groups validated, resolved candidates before a
	// batch flush via ApplyBatch. Zero disables batching.
	FlushSize int

	// ApplyBatch commits a group of candidates in one round trip. On error
	// the batch is decomposed and retried record-by-record through Apply, so
	// batching never weakens failure isolation.
	ApplyBatch func(ctx context.Context, cs []C, rs []Resolution) ([]Outcome, error)

	Logger *zap.Logger
}

type pending[C Candidate] struct {
	candidate  C
	resolution Resolution
}

// Run consumes the source to exhaustion and returns the aggregated result.
// The returned error is non-nil only for structural failures (unreadable
// source, cancellation); per-record failures are folded into the result.
func (p *Pipeline[C]) Run(ctx context.Context) (*Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	res := &Result{State: StateRunning, StartedAt: time.Now()}
	var batch []pending[C]

	for {
		// Cooperative cancellation check between records.
		if err := ctx.Err(); err != nil {
			return p.fail(res, fmt.Errorf("run cancelled: %w", err))
		}

		c, err := p.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.flush(ctx, res, batch)
			return p.fail(res, fmt.Errorf("failed to read source: %w", err))
		}

		res.Processed++

		if problems := p.Validate(c); len(problems) > 0 {
			if hard := hardProblems(problems); len(hard) > 0 {
				res.record(c.Ref(), Failed(joinProblems(hard)))
			} else {
				logger.Warn("Skipping candidate with soft validation problems",
					zap.String("ref", c.Ref()),
					zap.String("problems", joinProblems(problems)))
				res.record(c.Ref(), Skipped(joinProblems(problems)))
			}
			continue
		}

		resolution, err := p.Resolve(ctx, c)
		if err != nil {
			res.record(c.Ref(), Failed(err.Error()))
			continue
		}

		if p.FlushSize > 1 && p.ApplyBatch != nil {
			batch = append(batch, pending[C]{candidate: c, resolution: resolution})
			if len(batch) >= p.FlushSize {
				p.flush(ctx, res, batch)
				batch = batch[:0]
			}
			continue
		}

		res.record(c.Ref(), p.Apply(ctx, c, resolution))
	}

	p.flush(ctx, res, batch)
	return p.finish(res), nil
}

// flush commits buffered candidates. A failed batch write is decomposed and
// retried record-by-record so that one bad record cannot discard its
// neighbors.
func (p *Pipeline[C]) flush(ctx context.Context, res *Result, batch []pending[C]) {
	if len(batch) == 0 {
		return
	}

	cs := make([]C, len(batch))
	rs := make([]Resolution, len(batch))
	for i, b := range batch {
		cs[i] = b.candidate
		rs[i] = b.resolution
	}

	outcomes, err := p.ApplyBatch(ctx, cs, rs)
	if err == nil && len(outcomes) == len(batch) {
		for i, out := range outcomes {
			res.record(cs[i].Ref(), out)
		}
		return
	}

	for _, b := range batch {
		res.record(b.candidate.Ref(), p.Apply(ctx, b.candidate, b.resolution))
	}
}

func (p *Pipeline[C]) fail(res *Result, err error) (*Result, error) {
	res.State = StateFailed
	res.FinishedAt = time.Now()
	res.Errors = append(res.Errors, RecordError{Ref: "source", Message: err.Error()})
	return res, err
}

func (p *Pipeline[C]) finish(res *Result) *Result {
	res.FinishedAt = time.Now()
	switch {
	case res.Processed > 0 && res.Failed == res.Processed:
		res.State = StateFailed
	case res.Failed > 0:
		res.State = StatePartiallySucceeded
	default:
		res.State = StateSucceeded
	}
	return res
}

func hardProblems(problems []Problem) []Problem {
	var hard []Problem
	for _, p := range problems {
		if !p.Soft {
			hard = append(hard, p)
		}
	}
	return hard
}
