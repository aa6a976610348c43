// Package operator parses the slash-command grammar used to drive the bot
// by hand: enqueue work, force outcomes, inspect the queue. The same
// processor backs the interactive CLI and any chat front end.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/sakaguchi/xbot/errors"
	"github.com/sakaguchi/xbot/pipeline"
	"github.com/sakaguchi/xbot/sched"
	"github.com/sakaguchi/xbot/thread"
	"github.com/sakaguchi/xbot/translate"
)

const helpText = `Available commands:
/scrape <handle> - Fetch latest threads now.
/translate <thread_id> - Translate a stored thread now.
/publish <thread_id> [--credential name] [--title n] [--dry-run] - Publish a translation now.
/queue <scrape|translate|publish> <arg> [flags] [--at time] - Enqueue a job.
/run - Run one scheduling tick now.
/prompt <thread_id> - Print the manual translation prompt for a thread.
/override <thread_id> <text> [| <text> ...] - Store a manual translation, one segment per |-separated part.
/retry <job_id> - Force a failed or waiting job to run on the next tick.
/done <job_id> <result_ref> - Record a job as completed out of band.
/status - Summaries of stored threads, translations, and jobs.
/export [job_id] - Dump job records with their completion state.
/help - This message.`

// Processor parses operator commands and drives the scheduler.
type Processor struct {
	sched    *sched.Scheduler
	threads  *thread.Store
	interval time.Duration // scrape window granularity
	profile  translate.Profile
	log      *zap.SugaredLogger
	timeNow  func() time.Time
}

// NewProcessor constructs a command processor. interval is the scrape
// polling interval, used to derive scrape job keys; profile feeds the
// manual translation prompt.
func NewProcessor(scheduler *sched.Scheduler, threads *thread.Store, interval time.Duration, profile translate.Profile, log *zap.SugaredLogger) *Processor {
	return &Processor{
		sched:    scheduler,
		threads:  threads,
		interval: interval,
		profile:  profile,
		log:      log,
		timeNow:  time.Now,
	}
}

// Handle parses and executes one command line, returning the reply text.
// Unknown commands and usage errors come back as replies, not errors;
// errors are reserved for storage and execution failures.
func (p *Processor) Handle(ctx context.Context, command string) (string, error) {
	tokens := strings.Fields(command)
	if len(tokens) == 0 {
		return helpText, nil
	}

	head, args := tokens[0], tokens[1:]
	switch head {
	case "/start", "/help":
		return helpText, nil
	case "/scrape":
		return p.scrape(ctx, args, true, p.timeNow().UTC())
	case "/translate":
		return p.translateCmd(ctx, args, true, p.timeNow().UTC())
	case "/publish":
		return p.publish(ctx, args, true, p.timeNow().UTC())
	case "/queue":
		return p.queue(ctx, args)
	case "/run":
		return p.runTick(ctx)
	case "/prompt":
		return p.prompt(args)
	case "/override":
		return p.override(args, command)
	case "/retry":
		return p.retry(args)
	case "/done":
		return p.done(args)
	case "/status":
		return p.status()
	case "/export":
		return p.export(args)
	default:
		return fmt.Sprintf("Unknown command %q. Try /help", head), nil
	}
}

// scrape enqueues a scrape job for the current window. With runNow the
// scheduler ticks immediately instead of waiting for the next poll.
func (p *Processor) scrape(ctx context.Context, args []string, runNow bool, runAt time.Time) (string, error) {
	if len(args) < 1 {
		return "Usage: /scrape <handle>", nil
	}
	handle := args[0]
	payload, err := json.Marshal(pipeline.ScrapePayload{Handle: handle, Window: runAt})
	if err != nil {
		return "", err
	}
	job, err := p.sched.Enqueue(sched.KindScrape, pipeline.ScrapeKey(handle, runAt, p.interval), payload, runAt)
	if err != nil {
		return "", err
	}
	if runNow {
		return p.tickReply(ctx, job)
	}
	return fmt.Sprintf("Queued job %s (scrape %s).", job.ID, handle), nil
}

func (p *Processor) translateCmd(ctx context.Context, args []string, runNow bool, runAt time.Time) (string, error) {
	if len(args) < 1 {
		return "Usage: /translate <thread_id>", nil
	}
	threadID := args[0]
	t, err := p.threads.GetThread(threadID)
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			return fmt.Sprintf("Thread %s is not stored; scrape it first.", threadID), nil
		}
		return "", err
	}
	payload, err := json.Marshal(pipeline.TranslatePayload{ThreadID: threadID, Handle: t.AuthorHandle})
	if err != nil {
		return "", err
	}
	job, err := p.sched.Enqueue(sched.KindTranslate, pipeline.TranslateKey(threadID), payload, runAt)
	if err != nil {
		return "", err
	}
	if runNow {
		return p.tickReply(ctx, job)
	}
	return fmt.Sprintf("Queued job %s (translate %s).", job.ID, threadID), nil
}

func (p *Processor) publish(ctx context.Context, args []string, runNow bool, runAt time.Time) (string, error) {
	if len(args) < 1 {
		return "Usage: /publish <thread_id> [--credential name] [--title n] [--dry-run]", nil
	}
	threadID := args[0]
	dryRun := hasFlag(args, "--dry-run")
	credential := flagValue(args, "--credential")
	titleIndex := 0
	if v := flagValue(args, "--title"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Sprintf("--title wants a number, got %q.", v), nil
		}
		titleIndex = n
	}

	payload, err := json.Marshal(pipeline.PublishPayload{
		ThreadID:   threadID,
		Credential: credential,
		TitleIndex: titleIndex,
		DryRun:     dryRun,
	})
	if err != nil {
		return "", err
	}
	job, err := p.sched.Enqueue(sched.KindPublish, pipeline.PublishKey(threadID, dryRun), payload, runAt)
	if err != nil {
		return "", err
	}
	if runNow {
		return p.tickReply(ctx, job)
	}
	return fmt.Sprintf("Queued job %s (publish %s).", job.ID, threadID), nil
}

func (p *Processor) queue(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /queue <scrape|translate|publish> <arg> [flags] [--at time]", nil
	}
	action, rest := args[0], args[1:]

	runAt := p.timeNow().UTC()
	if v := flagValue(rest, "--at"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Sprintf("--at wants an RFC3339 time, got %q.", v), nil
		}
		runAt = at.UTC()
	}

	switch action {
	case "scrape":
		return p.scrape(ctx, rest, false, runAt)
	case "translate":
		return p.translateCmd(ctx, rest, false, runAt)
	case "publish":
		return p.publish(ctx, rest, false, runAt)
	default:
		return "Unknown queue action; use scrape, translate, or publish.", nil
	}
}

// runTick drives one scheduling tick by hand.
func (p *Processor) runTick(ctx context.Context) (string, error) {
	res, err := p.sched.RunTick(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Tick complete: %d promoted, %d executed, %d succeeded, %d deduplicated, %d retried, %d failed.",
		res.Promoted, res.Executed, res.Succeeded, res.Deduplicated, res.Retried, res.Failed), nil
}

// prompt renders the translation prompt for operator-driven override: the
// operator pastes it into a tool of their choice and feeds the result back
// via /override.
func (p *Processor) prompt(args []string) (string, error) {
	if len(args) < 1 {
		return "Usage: /prompt <thread_id>", nil
	}
	t, err := p.threads.GetThread(args[0])
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			return fmt.Sprintf("Thread %s is not stored; scrape it first.", args[0]), nil
		}
		return "", err
	}
	return translate.BuildManualPrompt(t, p.profile), nil
}

// override stores an operator-supplied translation. Segments arrive
// |-separated and must match the thread's segment count. The manual
// override flag keeps later translate jobs from overwriting it. The text is
// cut from the raw command line so the operator's spacing and line breaks
// survive inside each segment.
func (p *Processor) override(args []string, command string) (string, error) {
	if len(args) < 2 {
		return "Usage: /override <thread_id> <text> [| <text> ...]", nil
	}
	threadID := args[0]
	t, err := p.threads.GetThread(threadID)
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			return fmt.Sprintf("Thread %s is not stored; scrape it first.", threadID), nil
		}
		return "", err
	}

	var texts []string
	for _, part := range strings.Split(rawAfter(command, 2), "|") {
		if text := strings.TrimSpace(part); text != "" {
			texts = append(texts, text)
		}
	}
	if len(texts) != len(t.Segments) {
		return fmt.Sprintf("Thread %s has %d segments but %d were given.", threadID, len(t.Segments), len(texts)), nil
	}

	now := p.timeNow().UTC()
	tr := &thread.Translation{
		AuthorHandle:   t.AuthorHandle,
		RootID:         t.RootID(),
		Status:         thread.TranslationReady,
		ManualOverride: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, seg := range t.Segments {
		tr.Segments = append(tr.Segments, thread.TranslationSegment{
			SegmentID: seg.ID,
			Text:      texts[i],
			HasMedia:  len(seg.Media) > 0,
		})
	}
	if err := p.threads.UpsertTranslation(tr); err != nil {
		return "", err
	}

	p.log.Infow("manual translation stored", "thread", threadID, "segments", len(texts))
	return fmt.Sprintf("Manual translation stored for %s (%d segments); it is ready to publish.", threadID, len(texts)), nil
}

func (p *Processor) retry(args []string) (string, error) {
	if len(args) < 1 {
		return "Usage: /retry <job_id>", nil
	}
	job, err := p.sched.ForceRun(args[0])
	if err != nil {
		if errors.Is(err, sched.ErrNotFound) {
			return fmt.Sprintf("No job %s.", args[0]), nil
		}
		return "", err
	}
	return fmt.Sprintf("Job %s reset; it runs on the next tick.", job.ID), nil
}

func (p *Processor) done(args []string) (string, error) {
	if len(args) < 2 {
		return "Usage: /done <job_id> <result_ref>", nil
	}
	job, err := p.sched.ForceResult(args[0], args[1])
	if err != nil {
		if errors.Is(err, sched.ErrNotFound) {
			return fmt.Sprintf("No job %s.", args[0]), nil
		}
		return "", err
	}
	return fmt.Sprintf("Job %s recorded as succeeded with result %s.", job.ID, args[1]), nil
}

func (p *Processor) status() (string, error) {
	threads, err := p.threads.CountThreads()
	if err != nil {
		return "", err
	}
	translations, err := p.threads.CountTranslations()
	if err != nil {
		return "", err
	}
	counts, err := p.sched.Store().Counts()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Stored threads: %d\n", threads)
	fmt.Fprintf(&b, "Stored translations: %d\n", translations)
	fmt.Fprintf(&b, "Jobs:")
	for _, state := range []sched.JobState{
		sched.StatePending, sched.StateRunning, sched.StateRetrying,
		sched.StateSucceeded, sched.StateFailed,
	} {
		fmt.Fprintf(&b, " %s=%d", state, counts[state])
	}
	return b.String(), nil
}

func (p *Processor) export(args []string) (string, error) {
	if len(args) > 0 {
		record, err := sched.Export(p.sched.Store(), p.sched.Dedup(), args[0])
		if err != nil {
			if errors.Is(err, sched.ErrNotFound) {
				return fmt.Sprintf("No job %s.", args[0]), nil
			}
			return "", err
		}
		data, err := sched.MarshalExport([]*sched.ExportRecord{record})
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	records, err := sched.ExportAll(p.sched.Store(), p.sched.Dedup(), sched.ListFilter{})
	if err != nil {
		return "", err
	}
	data, err := sched.MarshalExport(records)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// tickReply drives one scheduling tick so the enqueued job executes
// immediately, then reports the job's resulting state.
func (p *Processor) tickReply(ctx context.Context, job *sched.Job) (string, error) {
	if _, err := p.sched.RunTick(ctx); err != nil {
		return "", err
	}
	updated, err := p.sched.Store().Get(job.ID)
	if err != nil {
		return "", err
	}
	switch updated.State {
	case sched.StateSucceeded:
		return fmt.Sprintf("Job %s succeeded.", updated.ID), nil
	case sched.StateRetrying:
		return fmt.Sprintf("Job %s hit %s, retrying at %s.",
			updated.ID, updated.LastError.Kind, updated.RunAt.Format(time.RFC3339)), nil
	case sched.StateFailed:
		return fmt.Sprintf("Job %s failed: %s.", updated.ID, updated.LastError.Message), nil
	default:
		return fmt.Sprintf("Job %s is %s.", updated.ID, updated.State), nil
	}
}

// CredentialRotationRequired satisfies the scheduler's auth notification
// hook by logging the expiry loudly for whoever runs the bot.
func (p *Processor) CredentialRotationRequired(job *sched.Job, cause error) {
	p.log.Errorw("credential rotation required",
		"job", job.ID,
		"kind", job.Kind,
		"signals", job.AuthSignals,
		"cause", cause)
}

// rawAfter returns the command text after its first n fields, spacing and
// line breaks intact. Empty when the command has no more than n fields.
func rawAfter(command string, n int) string {
	rest := command
	for i := 0; i < n; i++ {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		cut := strings.IndexFunc(rest, unicode.IsSpace)
		if cut < 0 {
			return ""
		}
		rest = rest[cut:]
	}
	return strings.TrimLeftFunc(rest, unicode.IsSpace)
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func flagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
