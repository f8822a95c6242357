package automation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"autoshift/internal/driver"
	appLog "autoshift/internal/log"
	"autoshift/internal/model"
	"autoshift/internal/schedule"
)

// ErrRunInProgress is returned when a run or sync is started while another
// one holds the browser.
var ErrRunInProgress = errors.New("an automation run is already in progress")

// Final progress messages.
const (
	msgNothingToDo = "Time frame window given is too small to run automation."
	msgCompleted   = "Shifts successfully added!"
	msgCancelled   = "Automation cancelled."
	msgAborted     = "Automation aborted."
)

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePartial   Outcome = "partial"
	OutcomeFatal     Outcome = "fatal"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeNothing   Outcome = "nothing"
)

// RunRequest is an inclusive ISO-8601 date range.
type RunRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// RunResult reports what a run did.
type RunResult struct {
	RunID     string                    `json:"run_id"`
	Outcome   Outcome                   `json:"outcome"`
	Committed []model.Occurrence        `json:"committed"`
	Skipped   []model.SkippedOccurrence `json:"skipped"`
	Error     string                    `json:"error,omitempty"`
}

// RunStatus is the observable state of the latest run.
type RunStatus struct {
	RunID     string        `json:"run_id"`
	Request   RunRequest    `json:"request"`
	StartedAt time.Time     `json:"started_at"`
	Running   bool          `json:"running"`
	Events    []model.Event `json:"events"`
	Result    *RunResult    `json:"result,omitempty"`
}

// Store is the part of the shift store a run needs.
type Store interface {
	ListCategories() ([]model.Category, error)
	LogFailure(operation string, cause error) error
}

// Provisioner guarantees a chromedriver matching the installed browser.
type Provisioner interface {
	EnsureDriver(ctx context.Context) (string, error)
}

// Config holds the site address and the bounded waits.
type Config struct {
	TargetURL      string
	LoginTimeout   time.Duration
	ElementTimeout time.Duration
	BannerTimeout  time.Duration

	// MaxConflictRounds bounds how often a confirmed conflict is resubmitted.
	MaxConflictRounds int

	Selectors Selectors
}

// Deps are the engine's collaborators.
type Deps struct {
	Store       Store
	Provisioner Provisioner
	Launch      Launcher
	Prompter    Prompter
	Notifier    Notifier
}

// Engine runs automation against one browser at a time.
type Engine struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	busy sync.Mutex
	wg   sync.WaitGroup

	statusMu sync.Mutex
	status   *RunStatus
}

// New returns an Engine. Zero timeouts fall back to the site defaults.
func New(cfg Config, deps Deps) *Engine {
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 120 * time.Second
	}
	if cfg.ElementTimeout <= 0 {
		cfg.ElementTimeout = 3 * time.Second
	}
	if cfg.BannerTimeout <= 0 {
		cfg.BannerTimeout = 3 * time.Second
	}
	if cfg.MaxConflictRounds <= 0 {
		cfg.MaxConflictRounds = 3
	}
	cfg.Selectors = cfg.Selectors.withDefaults()
	if deps.Notifier == nil {
		deps.Notifier = NotifierFunc(func(model.Event) {})
	}
	return &Engine{cfg: cfg, deps: deps, now: time.Now}
}

// Run executes one automation run synchronously. The result is always
// non-nil; the error is set for fatal outcomes and cancellation.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if !e.busy.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.busy.Unlock()
	return e.run(ctx, uuid.NewString(), req)
}

// Start launches a run in the background and returns its id. Use Status to
// follow it and Wait to block until it finishes.
func (e *Engine) Start(ctx context.Context, req RunRequest) (string, error) {
	if !e.busy.TryLock() {
		return "", ErrRunInProgress
	}
	runID := uuid.NewString()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.busy.Unlock()
		if _, err := e.run(ctx, runID, req); err != nil {
			appLog.Error("automation: run failed", err, "run", runID)
		}
	}()
	return runID, nil
}

// Wait blocks until background runs started with Start have returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Status returns a copy of the latest run's state, or nil if none ran yet.
func (e *Engine) Status() *RunStatus {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if e.status == nil {
		return nil
	}
	cp := *e.status
	cp.Events = slices.Clone(e.status.Events)
	return &cp
}

func (e *Engine) run(ctx context.Context, runID string, req RunRequest) (*RunResult, error) {
	e.statusMu.Lock()
	e.status = &RunStatus{RunID: runID, Request: req, StartedAt: e.now(), Running: true}
	e.statusMu.Unlock()

	res := &RunResult{RunID: runID}
	err := e.execute(ctx, res, req)

	var final string
	switch {
	case res.Outcome == OutcomeNothing:
		final = msgNothingToDo
	case res.Outcome == OutcomeCancelled && err == nil:
		final = msgCancelled
	case res.Outcome == OutcomeCancelled:
		final = msgAborted
	case err != nil:
		res.Outcome = OutcomeFatal
		res.Error = err.Error()
		final = fmt.Sprintf("Error occurred while adding shifts: %v", err)
		e.logFailure("run", err)
	case len(res.Skipped) > 0:
		res.Outcome = OutcomePartial
		final = fmt.Sprintf("Finished with %d shift(s) skipped.", len(res.Skipped))
	default:
		res.Outcome = OutcomeCompleted
		final = msgCompleted
	}
	if res.Committed == nil {
		res.Committed = []model.Occurrence{}
	}
	if res.Skipped == nil {
		res.Skipped = []model.SkippedOccurrence{}
	}
	e.emit(runID, final, true)

	e.statusMu.Lock()
	if e.status != nil && e.status.RunID == runID {
		e.status.Running = false
		e.status.Result = res
	}
	e.statusMu.Unlock()

	appLog.Info("automation: run finished", "run", runID, "outcome", res.Outcome,
		"committed", len(res.Committed), "skipped", len(res.Skipped))
	return res, err
}

// execute performs the run up to the final event. It sets res.Outcome only
// for nothing and cancelled; run derives the rest.
func (e *Engine) execute(ctx context.Context, res *RunResult, req RunRequest) error {
	ok, err := e.confirmRun(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
		}
		return err
	}
	if !ok {
		res.Outcome = OutcomeCancelled
		return nil
	}

	categories, err := e.deps.Store.ListCategories()
	if err != nil {
		return fmt.Errorf("load shifts: %w", err)
	}
	queue := schedule.Expand(categories, req.Start, req.End)
	if len(queue) == 0 {
		res.Outcome = OutcomeNothing
		return nil
	}
	appLog.Info("automation: queue built", "run", res.RunID, "occurrences", len(queue))

	page, err := e.openPage(ctx, res.RunID)
	if err != nil {
		return e.abandon(ctx, res, queue, err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			appLog.Error("automation: close browser", err, "run", res.RunID)
		}
	}()

	if err := e.awaitLogin(ctx, page, res.RunID); err != nil {
		return e.abandon(ctx, res, queue, err)
	}

	m := &machine{e: e, page: page, runID: res.RunID, missing: map[string]bool{}}
	err = m.process(ctx, queue)
	res.Committed = m.committed
	res.Skipped = m.skipped
	if err != nil {
		res.Outcome = OutcomeCancelled
	}
	return err
}

// abandon marks the whole queue skipped after a run-level failure.
func (e *Engine) abandon(ctx context.Context, res *RunResult, queue []model.Occurrence, cause error) error {
	reason := cause.Error()
	if ctx.Err() != nil {
		res.Outcome = OutcomeCancelled
		reason = ReasonAborted
	}
	for _, occ := range queue {
		res.Skipped = append(res.Skipped, model.SkippedOccurrence{Occurrence: occ, Reason: reason})
	}
	return cause
}

func (e *Engine) confirmRun(ctx context.Context, req RunRequest) (bool, error) {
	if e.deps.Prompter == nil {
		return true, nil
	}
	ok, err := e.deps.Prompter.ConfirmRun(ctx, req)
	if errors.Is(err, ErrConfirmTimeout) {
		appLog.Info("automation: run confirmation timed out", "start", req.Start, "end", req.End)
		return false, nil
	}
	return ok, err
}

// openPage provisions the driver and starts the browser.
func (e *Engine) openPage(ctx context.Context, runID string) (Page, error) {
	e.emit(runID, "Checking for chromedriver...", false)
	pctx := driver.WithProgress(ctx, func(msg string) { e.emit(runID, msg, false) })
	driverPath, err := e.deps.Provisioner.EnsureDriver(pctx)
	if err != nil {
		return nil, err
	}

	e.emit(runID, "Starting script", false)
	page, err := e.deps.Launch(ctx, driverPath)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return page, nil
}

// awaitLogin opens the site and waits for the operator to sign in.
func (e *Engine) awaitLogin(ctx context.Context, page Page, runID string) error {
	// The site may redirect to single sign-on, so the load shares the login budget.
	if err := page.Navigate(ctx, e.cfg.TargetURL, e.cfg.LoginTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("open %s: %w", e.cfg.TargetURL, err)
	}
	e.emit(runID, fmt.Sprintf("Waiting up to %s for login...", e.cfg.LoginTimeout), false)
	if err := page.WaitVisible(ctx, e.cfg.Selectors.LoginReady, e.cfg.LoginTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("login not completed within %s: %w", e.cfg.LoginTimeout, err)
	}
	e.emit(runID, "Logged in", false)
	return nil
}

// CollectCategories logs in through the browser and returns the job headings
// shown on the timesheet page as category names, in page order without
// duplicates. Like a run, it ends with exactly one final event.
func (e *Engine) CollectCategories(ctx context.Context) ([]string, error) {
	if !e.busy.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.busy.Unlock()

	runID := "sync-" + uuid.NewString()
	names, err := e.collect(ctx, runID)
	if err != nil {
		e.logFailure("sync", err)
		e.emit(runID, fmt.Sprintf("Error occurred while collecting job titles: %v", err), true)
		return nil, err
	}
	e.emit(runID, fmt.Sprintf("Found %d job title(s).", len(names)), true)
	appLog.Info("automation: collected job titles", "count", len(names))
	return names, nil
}

func (e *Engine) collect(ctx context.Context, runID string) ([]string, error) {
	page, err := e.openPage(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if err := e.awaitLogin(ctx, page, runID); err != nil {
		return nil, err
	}

	headings, err := page.ContainerTexts(ctx, e.cfg.Selectors.Container, e.cfg.Selectors.Heading, e.cfg.ElementTimeout)
	if err != nil {
		return nil, fmt.Errorf("read job titles: %w", err)
	}

	names := make([]string, 0, len(headings))
	for _, h := range headings {
		name := model.FitCategoryName(h)
		if name == "" || slices.ContainsFunc(names, func(n string) bool { return strings.EqualFold(n, name) }) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (e *Engine) emit(runID, msg string, final bool) {
	ev := model.Event{RunID: runID, Message: msg, IsFinal: final, Time: e.now()}

	e.statusMu.Lock()
	if e.status != nil && e.status.RunID == runID {
		e.status.Events = append(e.status.Events, ev)
	}
	e.statusMu.Unlock()

	appLog.Debug("automation: "+msg, "run", runID, "final", final)
	e.deps.Notifier.Notify(ev)
}

func (e *Engine) logFailure(op string, cause error) {
	if err := e.deps.Store.LogFailure(op, cause); err != nil {
		appLog.Error("automation: record failure", err, "operation", op)
	}
}
