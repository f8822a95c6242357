package automation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"autoshift/internal/model"
)

// entry is one saved add-time form.
type entry struct {
	Job, Date, Start, End, Comment string
}

// fakeSite is an in-memory model of the timesheet page.
type fakeSite struct {
	mu  sync.Mutex
	sel Selectors

	loggedIn bool
	jobs     []string

	// periodOf maps a YYYYMMDD date to its pay period; dates are offered only
	// in the current period.
	periodOf func(date string) string
	current  string
	typed    string

	rejectTimes map[string]bool
	hidden      map[string]bool

	// result decides what saving e does: "ok", "conflict" or "error".
	result func(e entry) string
	// stubborn keeps the conflict banner up after continue.
	stubborn bool

	formOpen bool
	form     entry
	banner   string

	committed []entry
	calls     []string
	navigated []string
	// navTimeouts records the bound passed with each Navigate.
	navTimeouts []time.Duration
	navErr      error
	closed    bool

	// onConflict runs when a conflict banner is raised.
	onConflict func()
}

func newFakeSite(jobs ...string) *fakeSite {
	return &fakeSite{
		sel:         DefaultSelectors(),
		loggedIn:    true,
		jobs:        jobs,
		periodOf:    func(string) string { return "" },
		rejectTimes: map[string]bool{},
		result:      func(entry) string { return "ok" },
	}
}

func notFound(sel string) error {
	return fmt.Errorf("%w: %s", model.ErrElementNotFound, sel)
}

func (f *fakeSite) log(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeSite) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	f.navTimeouts = append(f.navTimeouts, timeout)
	return f.navErr
}

func (f *fakeSite) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	visible := false
	switch sel {
	case f.sel.LoginReady:
		visible = f.loggedIn
	case f.sel.ErrorBanner:
		visible = f.banner != ""
	case f.sel.ConflictReason:
		visible = f.banner == "conflict"
	case f.sel.CancelButton:
		visible = f.formOpen
	}
	if !visible {
		return notFound(sel)
	}
	return nil
}

func (f *fakeSite) Click(ctx context.Context, sel string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log("click %s", sel)

	switch sel {
	case f.sel.CancelButton:
		if !f.formOpen {
			return notFound(sel)
		}
		f.formOpen, f.banner, f.form = false, "", entry{}
	case f.sel.RetrieveDate:
		f.current = f.periodOf(payPeriodToDate(f.typed))
	case f.sel.Save:
		if !f.formOpen {
			return notFound(sel)
		}
		switch f.result(f.form) {
		case "conflict":
			f.raiseConflict()
		case "error":
			f.banner = "error"
		default:
			f.commit()
		}
	case f.sel.Continue:
		if f.banner != "conflict" {
			return notFound(sel)
		}
		if f.stubborn {
			f.raiseConflict()
			return nil
		}
		f.commit()
	case f.sel.CancelWarning:
		if f.banner != "conflict" {
			return notFound(sel)
		}
		f.banner = ""
	default:
		return notFound(sel)
	}
	return nil
}

func (f *fakeSite) raiseConflict() {
	f.banner = "conflict"
	if f.onConflict != nil {
		f.onConflict()
	}
}

func (f *fakeSite) commit() {
	f.committed = append(f.committed, f.form)
	f.formOpen, f.banner, f.form = false, "", entry{}
}

func (f *fakeSite) TypeInto(ctx context.Context, sel, text string, clear bool, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log("type %s %s", sel, text)

	switch sel {
	case f.sel.PayPeriodInput:
		if f.formOpen {
			return notFound(sel)
		}
		f.typed = text
	case f.sel.Comments:
		if !f.formOpen {
			return notFound(sel)
		}
		f.form.Comment = text
	default:
		return notFound(sel)
	}
	return nil
}

func (f *fakeSite) SelectOption(ctx context.Context, sel, value string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log("select %s %s", sel, value)

	if !f.formOpen {
		return notFound(sel)
	}
	switch sel {
	case f.sel.Date:
		if f.hidden[value] || f.periodOf(value) != f.current {
			return notFound(sel + " " + value)
		}
		f.form.Date = value
	case f.sel.StartTime, f.sel.EndTime:
		if f.rejectTimes[value] {
			return notFound(sel + " " + value)
		}
		if sel == f.sel.StartTime {
			f.form.Start = value
		} else {
			f.form.End = value
		}
	default:
		return notFound(sel)
	}
	return nil
}

func (f *fakeSite) ContainerTexts(ctx context.Context, containerSel, childSel string, timeout time.Duration) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log("scan %s", containerSel)
	if !f.loggedIn || len(f.jobs) == 0 {
		return nil, notFound(containerSel)
	}
	return slices.Clone(f.jobs), nil
}

func (f *fakeSite) ClickWithin(ctx context.Context, containerSel string, index int, childSel string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.jobs) {
		return notFound(containerSel)
	}
	f.log("add %s", f.jobs[index])
	f.formOpen, f.banner = true, ""
	f.form = entry{Job: f.jobs[index]}
	return nil
}

func (f *fakeSite) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSite) Committed() []entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.committed)
}

// payPeriodToDate turns MM/DD/YYYY into YYYYMMDD.
func payPeriodToDate(s string) string {
	t, err := time.Parse("01/02/2006", s)
	if err != nil {
		return ""
	}
	return t.Format("20060102")
}

type fakeStore struct {
	mu         sync.Mutex
	categories []model.Category
	err        error
	failures   []string
}

func (s *fakeStore) ListCategories() ([]model.Category, error) {
	return s.categories, s.err
}

func (s *fakeStore) LogFailure(op string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, op+": "+cause.Error())
	return nil
}

func (s *fakeStore) Failures() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.failures)
}

type fakeProvisioner struct {
	path  string
	err   error
	calls int
}

func (p *fakeProvisioner) EnsureDriver(ctx context.Context) (string, error) {
	p.calls++
	return p.path, p.err
}

// scriptedPrompter answers run confirmation with run and conflicts from
// answers in order (false once exhausted).
type scriptedPrompter struct {
	mu      sync.Mutex
	run     bool
	answers []bool
	asked   []model.Occurrence
}

func (p *scriptedPrompter) ConfirmRun(ctx context.Context, req RunRequest) (bool, error) {
	return p.run, nil
}

func (p *scriptedPrompter) ConfirmConflict(ctx context.Context, occ model.Occurrence) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, occ)
	if len(p.answers) == 0 {
		return false, nil
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

// eventLog collects notifier output.
type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) Notify(ev model.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) Finals() []model.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Event
	for _, ev := range l.events {
		if ev.IsFinal {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Message)
	}
	return out
}
