// Package engine runs the full sanitize-and-validate pipeline against a
// geometry store.
//
// Each sanitize stage works on a private copy of the batch. When the stage
// finishes, its changes are written to the store inside one transaction,
// so an aborted run leaves every completed stage committed and the current
// one untouched.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/bsaid97/go-parcel-fixer/kernel"
	"github.com/bsaid97/go-parcel-fixer/lease"
	"github.com/bsaid97/go-parcel-fixer/metrics"
	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/sanitize"
	"github.com/bsaid97/go-parcel-fixer/store"
	"github.com/bsaid97/go-parcel-fixer/utils"
	"github.com/bsaid97/go-parcel-fixer/validate"
)

type Engine struct {
	kernel    kernel.Kernel
	validator *validate.Validator
	locker    lease.Locker
	leaseTTL  time.Duration
	progress  io.Writer
	logger    zerolog.Logger
}

type Option func(*Engine)

// WithLocker makes every run hold a lease on the store name.
func WithLocker(l lease.Locker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = l
		e.leaseTTL = ttl
	}
}

// WithProgress draws a spinner for the overlap stage on w.
func WithProgress(w io.Writer) Option {
	return func(e *Engine) { e.progress = w }
}

func New(k kernel.Kernel, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		kernel:    k,
		validator: validate.New(k, logger),
		leaseTTL:  30 * time.Minute,
		logger:    logger.With().Str("component", "engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// stage is one sanitize step. run mutates its batch in place.
type stage struct {
	name string
	run  func(ctx context.Context, batch *parcel.Batch) ([]parcel.Issue, error)
}

// Validate runs the validator alone over the store contents.
func (e *Engine) Validate(ctx context.Context, st store.Reader, policy parcel.Policy) *parcel.Report {
	batch, err := store.Load(ctx, st)
	if err != nil {
		return failed(nil, err)
	}
	report := e.validator.Validate(ctx, batch, policy)
	observeIssues(report)
	return report
}

// SanitizeAndValidate pre-checks the store, sanitizes it stage by stage and
// validates the result. It never fails: problems are reported as issues.
func (e *Engine) SanitizeAndValidate(ctx context.Context, st store.Store, policy parcel.Policy) (report *parcel.Report) {
	started := time.Now()
	log := e.logger.With().Str("store", st.Name()).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("pipeline panicked")
			report = failed(report, fmt.Errorf("internal error: %v", r))
		}
		observeIssues(report)
		metrics.RunsTotal.WithLabelValues(outcome(report)).Inc()
		log.Info().Bool("pass", report.Pass).Dur("elapsed", time.Since(started)).Msg("run finished")
	}()

	if e.locker != nil {
		release, err := e.locker.Acquire(ctx, lease.Key(st.Name()), e.leaseTTL)
		if err != nil {
			if errors.Is(err, lease.ErrHeld) {
				metrics.LeaseConflictsTotal.Inc()
			}
			return failed(nil, fmt.Errorf("acquire lease: %w", err))
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Msg("lease release failed")
			}
		}()
	}

	batch, err := store.Load(ctx, st)
	if err != nil {
		return failed(nil, err)
	}
	pre := e.validator.Validate(ctx, batch, policy)
	if pre.Fatal() {
		log.Warn().Int("errors", len(pre.Errors)).Msg("pre-check failed, store left untouched")
		return pre
	}

	summary := &parcel.Summary{Pairs: []parcel.OverlapPair{}, Stages: []string{}}
	var issues []parcel.Issue
	if err := ctx.Err(); err != nil {
		return abort(pre, summary, issues, fmt.Errorf("%w: %v", parcel.ErrCancelled, err))
	}
	for _, s := range e.stages(policy, summary, log) {
		stageIssues, err := e.runStage(ctx, st, s, batch, log)
		issues = append(issues, stageIssues...)
		if err != nil {
			return abort(pre, summary, issues, err)
		}
		summary.Stages = append(summary.Stages, s.name)
	}

	reloaded, err := store.Load(ctx, st)
	if err != nil {
		return abort(pre, summary, issues, err)
	}
	post := e.validator.Validate(ctx, reloaded, policy)
	post.PreCheck = pre
	post.Sanitize = summary
	post.Add(issues...)
	post.Finalize()
	return post
}

// abort reports a run that stopped before post-validation.
func abort(pre *parcel.Report, summary *parcel.Summary, issues []parcel.Issue, err error) *parcel.Report {
	out := failed(pre, err)
	out.PreCheck = pre
	out.Sanitize = summary
	out.Add(issues...)
	out.Finalize()
	return out
}

// runStage applies s to a copy of batch and commits the difference. On
// success batch is replaced by the stage output.
func (e *Engine) runStage(ctx context.Context, st store.Store, s stage, batch *parcel.Batch, log zerolog.Logger) ([]parcel.Issue, error) {
	started := time.Now()
	defer func() {
		metrics.StageDurationMs.WithLabelValues(s.name).Observe(float64(time.Since(started).Milliseconds()))
	}()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w before %s: %v", parcel.ErrCancelled, s.name, err)
	}
	work := batch.Clone()
	issues, err := s.run(ctx, work)
	if err != nil {
		metrics.StageRollbacksTotal.WithLabelValues(s.name).Inc()
		log.Warn().Err(err).Str("stage", s.name).Msg("stage aborted, nothing written")
		return issues, err
	}

	cs := parcel.Diff(batch, work)
	if !cs.Empty() {
		err = store.WithinTx(ctx, st, func(tx store.Tx) error {
			return store.Apply(ctx, tx, cs)
		})
		if err != nil {
			metrics.StageRollbacksTotal.WithLabelValues(s.name).Inc()
			log.Warn().Err(err).Str("stage", s.name).Msg("stage rolled back")
			return issues, err
		}
		metrics.RecordsWrittenTotal.WithLabelValues("deleted").Add(float64(len(cs.Deleted)))
		metrics.RecordsWrittenTotal.WithLabelValues("inserted").Add(float64(len(cs.Inserted)))
		metrics.RecordsWrittenTotal.WithLabelValues("geometry").Add(float64(len(cs.GeometryUpdates)))
		metrics.RecordsWrittenTotal.WithLabelValues("attributes").Add(float64(len(cs.AttributeUpdates)))
	}
	log.Info().Str("stage", s.name).Int("changes", cs.Size()).Dur("elapsed", time.Since(started)).Msg("stage committed")

	*batch = *work
	return issues, nil
}

// stages lists the sanitize steps for policy. Decomposition runs again
// after the overlap fix since erasing can cut a target in two.
func (e *Engine) stages(policy parcel.Policy, summary *parcel.Summary, log zerolog.Logger) []stage {
	decomposer := sanitize.NewDecomposer(e.kernel, e.logger)
	detector := sanitize.NewDetector(e.kernel, policy.Epsilon, e.logger)
	resolver := sanitize.NewResolver(e.kernel, detector, e.logger)
	containment := sanitize.NewContainmentRemover(e.kernel, policy.Epsilon, e.logger)
	holes := sanitize.NewHoleStripper(e.logger)
	repairer := sanitize.NewRepairer(e.kernel, e.logger)
	renumberer := sanitize.NewRenumberer(policy, e.logger)

	decompose := func(_ context.Context, b *parcel.Batch) ([]parcel.Issue, error) {
		stats, issues := decomposer.Decompose(b)
		summary.MultipartSplit += stats.Split
		summary.PartsCreated += stats.PartsCreated
		return issues, nil
	}

	out := []stage{{name: "decompose", run: decompose}}
	if policy.RemoveContained {
		out = append(out, stage{name: "contained", run: func(ctx context.Context, b *parcel.Batch) ([]parcel.Issue, error) {
			ids, issues, err := containment.RemoveContained(ctx, b)
			summary.ContainedRemoved += len(ids)
			return issues, err
		}})
	}
	if policy.RunOverlapFix {
		out = append(out,
			stage{name: "overlaps", run: func(ctx context.Context, b *parcel.Batch) ([]parcel.Issue, error) {
				tracker := utils.NewProgressTracker(0, "overlaps", log)
				tracker.Out = e.progress
				stats, issues, err := resolver.FixAll(ctx, b, policy, tracker)
				if err != nil {
					return issues, err
				}
				summary.OverlapsDetected += stats.Detected
				summary.OverlapsResolved += stats.Resolved
				summary.OverlapsUnresolved += stats.Unresolved
				summary.ErasedDeleted += stats.Deleted
				summary.Pairs = append(summary.Pairs, stats.Pairs...)
				metrics.OverlapsTotal.WithLabelValues("resolved").Add(float64(stats.Resolved))
				metrics.OverlapsTotal.WithLabelValues("unresolved").Add(float64(stats.Unresolved))
				metrics.OverlapsTotal.WithLabelValues("deleted").Add(float64(stats.Deleted))
				for _, n := range stats.Attempts {
					metrics.BufferAttempts.Observe(float64(n))
				}
				return issues, nil
			}},
			stage{name: "redecompose", run: decompose},
		)
	}
	out = append(out,
		stage{name: "holes", run: func(_ context.Context, b *parcel.Batch) ([]parcel.Issue, error) {
			n, issues := holes.StripAll(b)
			summary.HolesStripped += n
			return issues, nil
		}},
		stage{name: "repair", run: func(ctx context.Context, b *parcel.Batch) ([]parcel.Issue, error) {
			stats, issues, err := repairer.RepairAll(ctx, b, policy)
			if err != nil {
				return issues, err
			}
			summary.Repaired += stats.Repaired
			summary.NullsRemoved += stats.NullsRemoved
			summary.SliversRemoved += stats.SliversRemoved
			return issues, nil
		}},
		stage{name: "renumber", run: func(_ context.Context, b *parcel.Batch) ([]parcel.Issue, error) {
			stats := renumberer.Renumber(b, sanitize.SortKey{Fields: policy.SortFields})
			summary.Renumbered += stats.Renumbered
			summary.UniqueIDsAssigned += stats.UniqueIDs
			return nil, nil
		}},
	)
	return out
}

// failed builds a failing report carrying err, keeping the stage flags of
// base when given.
func failed(base *parcel.Report, err error) *parcel.Report {
	out := parcel.NewReport()
	if base != nil {
		out.StructuralOK = base.StructuralOK
		out.ProjectionOK = base.ProjectionOK
		out.FieldsOK = base.FieldsOK
		for k, v := range base.Counts {
			out.Counts[k] = v
		}
	}
	out.Add(parcel.IssueFor(err))
	out.Finalize()
	return out
}

func outcome(r *parcel.Report) string {
	switch {
	case r == nil:
		return "error"
	case r.Pass:
		return "pass"
	case r.Fatal():
		return "rejected"
	}
	return "fail"
}

func observeIssues(r *parcel.Report) {
	if r == nil {
		return
	}
	for _, is := range r.Errors {
		metrics.ValidationIssuesTotal.WithLabelValues(string(is.Stage), string(is.Severity)).Inc()
	}
	for _, is := range r.Warnings {
		metrics.ValidationIssuesTotal.WithLabelValues(string(is.Stage), string(is.Severity)).Inc()
	}
}
