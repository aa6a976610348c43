package sched

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sakaguchi/xbot/errors"
)

// Config controls scheduling, retry, and chaining behavior.
type Config struct {
	PollInterval   time.Duration `json:"poll_interval"`    // how often the daemon tick fires
	HandlerTimeout time.Duration `json:"handler_timeout"`  // hard per-call timeout; timeout counts as transient
	MaxAttempts    int           `json:"max_attempts"`     // transient retry ceiling
	BackoffBase    time.Duration `json:"backoff_base"`     // first retry delay
	BackoffCap     time.Duration `json:"backoff_cap"`      // maximum retry delay
	AuthRetryDelay time.Duration `json:"auth_retry_delay"` // fixed delay after an auth failure
	MaxAuthSignals int           `json:"max_auth_signals"` // consecutive unresolved auth signals before failing
	ChainPublish   bool          `json:"chain_publish"`    // translate success auto-enqueues publish
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   30 * time.Second,
		HandlerTimeout: 2 * time.Minute,
		MaxAttempts:    3,
		BackoffBase:    30 * time.Second,
		BackoffCap:     300 * time.Second,
		AuthRetryDelay: 60 * time.Second,
		MaxAuthSignals: 3,
		ChainPublish:   false,
	}
}

// AuthSignaler is notified when a job needs credential rotation before its
// next attempt can succeed. The operator surface implements this.
type AuthSignaler interface {
	CredentialRotationRequired(job *Job, cause error)
}

// Chainer decides the follow-up job enqueued after a success, e.g. translate
// success chaining into publish. The returned payload key must be
// deterministic so re-running the chain step is harmless.
type Chainer interface {
	Chain(job *Job, resultRef string) (kind JobKind, payloadKey string, payload json.RawMessage, ok bool)
}

// TickResult summarizes one scheduling tick.
type TickResult struct {
	Promoted     int // retrying jobs whose backoff elapsed
	Executed     int // handler invocations
	Succeeded    int
	Deduplicated int // short-circuited via the dedup index
	Retried      int
	Failed       int
}

// Scheduler selects due jobs, runs them through stage handlers, and owns
// every job store and dedup index write. Jobs execute sequentially within a
// tick; the timer loop and operator-triggered ticks share one execution lock
// so a manual "run now" cannot overlap a timer tick.
type Scheduler struct {
	store    *Store
	dedup    *DedupIndex
	registry *HandlerRegistry
	cfg      Config
	backoff  Backoff
	signaler AuthSignaler
	chainer  Chainer
	log      *zap.SugaredLogger
	timeNow  func() time.Time // injectable for testing

	runMu sync.Mutex // single execution lock for ticks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler with real time.
func New(store *Store, dedup *DedupIndex, registry *HandlerRegistry, cfg Config, log *zap.SugaredLogger) *Scheduler {
	return NewWithClock(store, dedup, registry, cfg, log, time.Now)
}

// NewWithClock creates a scheduler with an injectable clock (for testing).
func NewWithClock(store *Store, dedup *DedupIndex, registry *HandlerRegistry, cfg Config, log *zap.SugaredLogger, timeNow func() time.Time) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    store,
		dedup:    dedup,
		registry: registry,
		cfg:      cfg,
		backoff:  NewBackoff(cfg.BackoffBase, cfg.BackoffCap),
		log:      log.Named("sched"),
		timeNow:  timeNow,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetAuthSignaler wires the operator notification for credential rotation.
func (s *Scheduler) SetAuthSignaler(sig AuthSignaler) { s.signaler = sig }

// SetChainer wires the follow-up job policy. Only consulted when
// cfg.ChainPublish is enabled.
func (s *Scheduler) SetChainer(c Chainer) { s.chainer = c }

// SetBackoff replaces the backoff policy (for testing with fixed jitter).
func (s *Scheduler) SetBackoff(b Backoff) { s.backoff = b }

// Store exposes the job store for status queries.
func (s *Scheduler) Store() *Store { return s.store }

// Dedup exposes the dedup index for export and status queries.
func (s *Scheduler) Dedup() *DedupIndex { return s.dedup }

// Enqueue creates a pending job, or returns the existing record when the
// same logical work is already queued. Identity is deterministic, so two
// enqueues of "translate tweet 42" collapse to one job.
func (s *Scheduler) Enqueue(kind JobKind, payloadKey string, payload json.RawMessage, runAt time.Time) (*Job, error) {
	if !s.registry.Has(kind) {
		return nil, errors.Newf("no handler registered for kind %s", kind)
	}

	job := NewJob(kind, payloadKey, payload, runAt)

	existing, err := s.store.Get(job.ID)
	if err == nil {
		if existing.State.Terminal() {
			s.log.Infow("Enqueue ignored: job already terminal",
				"job_id", existing.ID,
				"kind", existing.Kind,
				"state", existing.State,
			)
			return existing, nil
		}
		s.log.Debugw("Enqueue reused existing job",
			"job_id", existing.ID,
			"kind", existing.Kind,
		)
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := s.store.Put(job); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a race with a concurrent enqueue of the same work.
			return s.store.Get(job.ID)
		}
		return nil, err
	}

	s.log.Infow("Job enqueued",
		"job_id", job.ID,
		"kind", job.Kind,
		"payload_key", job.PayloadKey,
		"run_at", job.RunAt,
	)
	return job, nil
}

// Recover returns jobs stranded in running state to pending. Only safe at
// startup, before the tick loop: inside a live process the execution lock
// guarantees no job is running outside a tick, so a running job here means
// a previous process died mid-execution. If its side effect completed, the
// dedup index short-circuits the re-run.
func (s *Scheduler) Recover() (int, error) {
	stale, err := s.store.List(ListFilter{States: []JobState{StateRunning}})
	if err != nil {
		return 0, err
	}
	now := s.timeNow().UTC()
	recovered := 0
	for _, job := range stale {
		if _, err := s.store.Update(job.ID, func(j *Job) error {
			if j.State != StateRunning {
				return errors.Newf("job %s left running concurrently (state: %s)", j.ID, j.State)
			}
			j.Reset(now)
			return nil
		}); err != nil {
			s.log.Warnw("Failed to recover stale job", "job_id", job.ID, "error", err)
			continue
		}
		recovered++
		s.log.Infow("Recovered job stranded by previous process",
			"job_id", job.ID,
			"kind", job.Kind,
			"attempt_count", job.AttemptCount,
		)
	}
	return recovered, nil
}

// Start recovers stranded jobs and begins the timer-driven tick loop.
func (s *Scheduler) Start() {
	if recovered, err := s.Recover(); err != nil {
		s.log.Warnw("Stale job recovery failed", "error", err)
	} else if recovered > 0 {
		s.log.Infow("Stale jobs recovered", "count", recovered)
	}
	s.wg.Add(1)
	go s.run()
	s.log.Infow("Scheduler started", "poll_interval", s.cfg.PollInterval)
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.log.Infow("Scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunTick(s.ctx); err != nil {
				s.log.Warnw("Tick error", "error", err)
			}
		}
	}
}

// RunTick executes one scheduling pass. Safe to call from an operator
// command while the timer loop is running: both paths serialize on the same
// execution lock.
func (s *Scheduler) RunTick(ctx context.Context) (TickResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	var res TickResult
	now := s.timeNow().UTC()

	// Promote retrying jobs whose backoff delay has elapsed.
	retrying, err := s.store.ListRetryingDue(now)
	if err != nil {
		return res, err
	}
	for _, job := range retrying {
		if _, err := s.store.Update(job.ID, func(j *Job) error {
			if j.State != StateRetrying {
				return errors.Newf("job %s left retrying concurrently (state: %s)", j.ID, j.State)
			}
			j.Reset(now)
			return nil
		}); err != nil {
			s.log.Warnw("Failed to promote retrying job", "job_id", job.ID, "error", err)
			continue
		}
		res.Promoted++
	}

	// The execution lock means no job is legitimately running when a tick
	// starts, so any running job here is stranded. If its completion record
	// exists the side effect already happened; finish the lost transition.
	stranded, err := s.store.List(ListFilter{States: []JobState{StateRunning}})
	if err != nil {
		return res, err
	}
	for _, job := range stranded {
		s.finalizeStranded(job, now, &res)
	}

	due, err := s.store.ListDue(now)
	if err != nil {
		return res, err
	}

	for _, job := range due {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}
		s.runJob(ctx, job, &res)
	}

	if res.Executed > 0 || res.Promoted > 0 {
		s.log.Infow("Tick complete",
			"promoted", res.Promoted,
			"executed", res.Executed,
			"succeeded", res.Succeeded,
			"deduplicated", res.Deduplicated,
			"retried", res.Retried,
			"failed", res.Failed,
		)
	}
	return res, nil
}

// finalizeStranded succeeds a job stuck in running whose dedup key is
// already recorded, recovering a success whose state write was lost without
// restarting the process. Unrecorded running jobs are left for Recover or
// the operator: their side effect may or may not have happened.
func (s *Scheduler) finalizeStranded(job *Job, now time.Time, res *TickResult) {
	key := job.DedupKey()
	done, err := s.dedup.Has(key)
	if err != nil {
		s.log.Warnw("Dedup lookup failed for stranded job", "job_id", job.ID, "key", key, "error", err)
		return
	}
	if !done {
		return
	}
	ref, _, err := s.dedup.Lookup(key)
	if err != nil {
		s.log.Warnw("Dedup result lookup failed for stranded job", "job_id", job.ID, "key", key, "error", err)
		return
	}
	if _, err := s.store.Update(job.ID, func(j *Job) error {
		if j.State != StateRunning {
			return errors.Newf("job %s left running concurrently (state: %s)", j.ID, j.State)
		}
		j.Succeed(now)
		return nil
	}); err != nil {
		s.log.Warnw("Failed to finalize stranded job", "job_id", job.ID, "error", err)
		return
	}
	res.Deduplicated++
	s.log.Infow("Stranded job finalized from completion record",
		"job_id", job.ID,
		"kind", job.Kind,
		"result_ref", ref,
	)
	s.maybeChain(job, ref)
}

// runJob executes one due job: dedup check, handler call, state persistence.
func (s *Scheduler) runJob(ctx context.Context, job *Job, res *TickResult) {
	now := s.timeNow().UTC()

	updated, err := s.store.Update(job.ID, func(j *Job) error {
		if j.State != StatePending {
			return errors.Newf("job %s no longer pending (state: %s)", j.ID, j.State)
		}
		j.Start(now)
		return nil
	})
	if err != nil {
		s.log.Warnw("Failed to start job", "job_id", job.ID, "error", err)
		return
	}
	job = updated

	key := job.DedupKey()

	// The dedup index is consulted immediately before any handler call. A
	// present key means the side effect already happened, even if a crash
	// lost the job state transition: mark succeeded without re-executing.
	done, err := s.dedup.Has(key)
	if err != nil {
		s.log.Errorw("Dedup lookup failed", "job_id", job.ID, "key", key, "error", err)
		s.retreatToPending(job)
		return
	}
	if done {
		ref, _, err := s.dedup.Lookup(key)
		if err != nil {
			s.log.Errorw("Dedup result lookup failed", "job_id", job.ID, "key", key, "error", err)
			s.retreatToPending(job)
			return
		}
		if _, err := s.store.Update(job.ID, func(j *Job) error {
			j.Succeed(s.timeNow().UTC())
			return nil
		}); err != nil {
			s.log.Errorw("Failed to persist deduplicated success", "job_id", job.ID, "error", err)
			return
		}
		res.Deduplicated++
		s.log.Infow("Job already completed, marked succeeded from dedup index",
			"job_id", job.ID,
			"key", key,
			"result_ref", ref,
		)
		s.maybeChain(job, ref)
		return
	}

	handler := s.registry.Get(job.Kind)
	if handler == nil {
		s.failJob(job, &JobError{Kind: ErrorPermanent, Message: "no handler registered for kind " + string(job.Kind)}, res)
		return
	}

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandlerTimeout)
	ref, execErr := handler.Execute(hctx, job.Payload)
	cancel()
	res.Executed++

	if execErr == nil {
		s.completeJob(job, key, ref, res)
		return
	}
	s.handleFailure(job, execErr, res)
}

// completeJob records the dedup key then persists the success transition, in
// that order: if the process dies between the two, the next attempt finds
// the key and recovers without re-executing the side effect.
func (s *Scheduler) completeJob(job *Job, key, resultRef string, res *TickResult) {
	if err := s.dedup.Record(key, resultRef); err != nil {
		s.log.Errorw("Failed to record dedup key after success",
			"job_id", job.ID,
			"key", key,
			"error", err,
		)
		// The side effect happened but is unrecorded. Leave the job running;
		// the operator resolves it with ForceResult, or ForceRun once the
		// handler timeout has passed.
		return
	}

	if _, err := s.store.Update(job.ID, func(j *Job) error {
		j.Succeed(s.timeNow().UTC())
		return nil
	}); err != nil {
		s.log.Errorw("Failed to persist success", "job_id", job.ID, "error", err)
		return
	}

	res.Succeeded++
	s.log.Infow("Job succeeded",
		"job_id", job.ID,
		"kind", job.Kind,
		"attempt", job.AttemptCount,
		"result_ref", resultRef,
	)
	s.maybeChain(job, resultRef)
}

func (s *Scheduler) handleFailure(job *Job, execErr error, res *TickResult) {
	kind := Classify(execErr)
	jerr := &JobError{Kind: kind, Message: execErr.Error()}
	now := s.timeNow().UTC()

	switch kind {
	case ErrorPermanent:
		s.failJob(job, jerr, res)

	case ErrorAuthExpired:
		exhausted := false
		if _, err := s.store.Update(job.ID, func(j *Job) error {
			j.AuthSignals++
			if j.AuthSignals >= s.cfg.MaxAuthSignals {
				exhausted = true
				j.Fail(now, jerr)
				return nil
			}
			j.Retry(now, now.Add(s.cfg.AuthRetryDelay), jerr)
			return nil
		}); err != nil {
			s.log.Errorw("Failed to persist auth failure", "job_id", job.ID, "error", err)
			return
		}
		if exhausted {
			res.Failed++
			s.log.Errorw("Job failed: credential rotation not resolved",
				"job_id", job.ID,
				"auth_signals", s.cfg.MaxAuthSignals,
				"error", execErr,
			)
			return
		}
		res.Retried++
		s.log.Warnw("Job needs credential rotation",
			"job_id", job.ID,
			"retry_at", now.Add(s.cfg.AuthRetryDelay),
			"error", execErr,
		)
		if s.signaler != nil {
			s.signaler.CredentialRotationRequired(job, execErr)
		}

	default: // transient
		// MaxAttempts bounds retries: attempts 1..MaxAttempts are retried
		// with growing backoff, the attempt after that fails terminally.
		if job.AttemptCount > s.cfg.MaxAttempts {
			s.failJob(job, jerr, res)
			return
		}
		delay := s.backoff.Delay(job.AttemptCount)
		nextRun := now.Add(delay)
		if _, err := s.store.Update(job.ID, func(j *Job) error {
			j.Retry(now, nextRun, jerr)
			return nil
		}); err != nil {
			s.log.Errorw("Failed to persist retry", "job_id", job.ID, "error", err)
			return
		}
		res.Retried++
		s.log.Warnw("Job retry scheduled",
			"job_id", job.ID,
			"attempt", job.AttemptCount,
			"max_attempts", s.cfg.MaxAttempts,
			"delay", delay,
			"error", execErr,
		)
	}
}

func (s *Scheduler) failJob(job *Job, jerr *JobError, res *TickResult) {
	if _, err := s.store.Update(job.ID, func(j *Job) error {
		j.Fail(s.timeNow().UTC(), jerr)
		return nil
	}); err != nil {
		s.log.Errorw("Failed to persist terminal failure", "job_id", job.ID, "error", err)
		return
	}
	res.Failed++
	s.log.Errorw("Job failed terminally",
		"job_id", job.ID,
		"kind", job.Kind,
		"attempt", job.AttemptCount,
		"error_kind", jerr.Kind,
		"error", jerr.Message,
	)
}

// retreatToPending returns a job to pending after an infrastructure error
// (not a handler failure), so the next tick retries without burning an
// attempt beyond the one already counted.
func (s *Scheduler) retreatToPending(job *Job) {
	if _, err := s.store.Update(job.ID, func(j *Job) error {
		j.Reset(s.timeNow().UTC())
		return nil
	}); err != nil {
		s.log.Errorw("Failed to return job to pending", "job_id", job.ID, "error", err)
	}
}

// maybeChain enqueues the configured follow-up job. The chain payload key is
// deterministic, so re-running this step after a crash is harmless.
func (s *Scheduler) maybeChain(job *Job, resultRef string) {
	if !s.cfg.ChainPublish || s.chainer == nil {
		return
	}
	kind, payloadKey, payload, ok := s.chainer.Chain(job, resultRef)
	if !ok {
		return
	}
	chained, err := s.Enqueue(kind, payloadKey, payload, s.timeNow().UTC())
	if err != nil {
		s.log.Errorw("Failed to enqueue chained job",
			"job_id", job.ID,
			"chain_kind", kind,
			"error", err,
		)
		return
	}
	s.log.Infow("Chained follow-up job",
		"job_id", job.ID,
		"chained_job_id", chained.ID,
		"chain_kind", kind,
	)
}

// ForceRun is the manual override that returns a failed or retrying job to
// pending immediately, bypassing backoff. A running job can also be reclaimed
// once it has sat untouched past the handler timeout: nothing can still be
// executing it, so it was stranded by a lost completion write. The transition
// is audit-logged.
func (s *Scheduler) ForceRun(id string) (*Job, error) {
	now := s.timeNow().UTC()
	job, err := s.store.Update(id, func(j *Job) error {
		switch j.State {
		case StateFailed, StateRetrying, StatePending:
			j.Reset(now)
			j.RunAt = now
			j.AuthSignals = 0
			return nil
		case StateRunning:
			if now.Sub(j.UpdatedAt) < s.cfg.HandlerTimeout {
				return errors.Newf("job %s is still running", j.ID)
			}
			j.Reset(now)
			j.RunAt = now
			j.AuthSignals = 0
			return nil
		default:
			return errors.Newf("cannot force-run job in state %s", j.State)
		}
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("Manual override: job forced to pending",
		"job_id", job.ID,
		"kind", job.Kind,
		"attempt_count", job.AttemptCount,
	)
	return job, nil
}

// ForceResult is the manual override that records an operator-supplied
// result for a job whose handler cannot run automatically. The result is
// written through the dedup index first, so later automatic attempts see the
// work as already done.
func (s *Scheduler) ForceResult(id, resultRef string) (*Job, error) {
	job, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if job.State == StateSucceeded {
		return job, nil
	}

	if err := s.dedup.Record(job.DedupKey(), resultRef); err != nil {
		return nil, err
	}

	job, err = s.store.Update(id, func(j *Job) error {
		j.Succeed(s.timeNow().UTC())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("Manual override: result forced",
		"job_id", job.ID,
		"kind", job.Kind,
		"result_ref", resultRef,
	)
	return job, nil
}
