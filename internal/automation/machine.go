package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	appLog "autoshift/internal/log"
	"autoshift/internal/model"
)

// Skip reasons that are not derived from an error.
const (
	ReasonAborted         = "aborted"
	ReasonCategoryMissing = "category not found on page"
)

// ErrCategoryNotFound means no job heading on the page matches a category.
var ErrCategoryNotFound = fmt.Errorf("%w: category not found on page", model.ErrNotFound)

// state names the step an occurrence is in, for logs and skip reasons.
type state string

const (
	stateSelectCategory state = "select category"
	stateEnterDate      state = "enter date"
	stateEnterTimes     state = "enter times"
	stateSubmit         state = "submit"
	stateConflict       state = "conflict"
)

// stepError records the state an occurrence failed in.
type stepError struct {
	state state
	err   error
}

func (e *stepError) Error() string { return fmt.Sprintf("%s: %v", e.state, e.err) }
func (e *stepError) Unwrap() error { return e.err }

func fail(s state, err error) error {
	if err == nil {
		return nil
	}
	return &stepError{state: s, err: err}
}

// machine enters a queue of occurrences on a logged-in page, one at a time.
type machine struct {
	e     *Engine
	page  Page
	runID string

	committed []model.Occurrence
	skipped   []model.SkippedOccurrence

	// missing holds categories whose heading was not found; their remaining
	// occurrences are skipped without another lookup.
	missing map[string]bool
}

// process consumes the queue in order. It returns ctx.Err() if the run was
// cancelled, after marking every unfinished occurrence as aborted.
func (m *machine) process(ctx context.Context, queue []model.Occurrence) error {
	for i, occ := range queue {
		if err := ctx.Err(); err != nil {
			m.abort(queue[i:])
			return err
		}
		if m.missing[occ.Category] {
			m.skip(occ, ReasonCategoryMissing)
			continue
		}

		err := m.enter(ctx, occ)
		switch {
		case err == nil:
			m.committed = append(m.committed, occ)
			m.e.emit(m.runID, fmt.Sprintf("Added %s", occ), false)
		case ctx.Err() != nil:
			m.abort(queue[i:])
			return ctx.Err()
		case errors.Is(err, ErrCategoryNotFound):
			m.missing[occ.Category] = true
			m.e.logFailure("automation", fmt.Errorf("%s: %w", occ, err))
			m.skip(occ, ReasonCategoryMissing)
		default:
			m.e.logFailure("automation", fmt.Errorf("%s: %w", occ, err))
			m.skip(occ, err.Error())
		}
	}
	return nil
}

func (m *machine) skip(occ model.Occurrence, reason string) {
	appLog.Info("automation: skipped", "run", m.runID, "occurrence", occ.String(), "reason", reason)
	m.skipped = append(m.skipped, model.SkippedOccurrence{Occurrence: occ, Reason: reason})
	m.e.emit(m.runID, fmt.Sprintf("Skipped %s: %s", occ, reason), false)
}

func (m *machine) abort(rest []model.Occurrence) {
	for _, occ := range rest {
		m.skipped = append(m.skipped, model.SkippedOccurrence{Occurrence: occ, Reason: ReasonAborted})
	}
}

// enter walks one occurrence through the add-time form.
func (m *machine) enter(ctx context.Context, occ model.Occurrence) error {
	if err := m.selectCategory(ctx, occ.Category); err != nil {
		return fail(stateSelectCategory, err)
	}
	if err := m.enterDate(ctx, occ); err != nil {
		m.cancelEntry(ctx)
		return fail(stateEnterDate, err)
	}
	if err := m.enterTimes(ctx, occ); err != nil {
		m.cancelEntry(ctx)
		return fail(stateEnterTimes, err)
	}
	return m.submit(ctx, occ)
}

// selectCategory opens the add-time form of the job whose heading contains
// the category name.
func (m *machine) selectCategory(ctx context.Context, category string) error {
	sel := m.e.cfg.Selectors
	timeout := m.e.cfg.ElementTimeout

	headings, err := m.page.ContainerTexts(ctx, sel.Container, sel.Heading, timeout)
	if err != nil {
		if errors.Is(err, model.ErrElementNotFound) {
			return fmt.Errorf("%w: %q (no job sections)", ErrCategoryNotFound, category)
		}
		return err
	}

	want := model.SanitizeName(category)
	for i, h := range headings {
		if !strings.Contains(model.SanitizeName(h), want) {
			continue
		}
		return m.page.ClickWithin(ctx, sel.Container, i, sel.AddButton, timeout)
	}
	return fmt.Errorf("%w: %q", ErrCategoryNotFound, category)
}

// enterDate picks the occurrence date. A date outside the displayed pay
// period is retried once after switching the pay period.
func (m *machine) enterDate(ctx context.Context, occ model.Occurrence) error {
	sel := m.e.cfg.Selectors
	timeout := m.e.cfg.ElementTimeout

	err := m.page.SelectOption(ctx, sel.Date, occ.DateValue(), timeout)
	if err == nil || !errors.Is(err, model.ErrElementNotFound) {
		return err
	}

	appLog.Debug("automation: date not offered, switching pay period", "run", m.runID, "date", occ.PayPeriodDate())
	if err := m.page.Click(ctx, sel.CancelButton, timeout); err != nil {
		return err
	}
	if err := m.page.TypeInto(ctx, sel.PayPeriodInput, occ.PayPeriodDate(), true, timeout); err != nil {
		return err
	}
	if err := m.page.Click(ctx, sel.RetrieveDate, timeout); err != nil {
		return err
	}
	if err := m.selectCategory(ctx, occ.Category); err != nil {
		return err
	}
	if err := m.page.SelectOption(ctx, sel.Date, occ.DateValue(), timeout); err != nil {
		return fmt.Errorf("date %s not offered after pay period change: %w", occ.DateValue(), err)
	}
	return nil
}

func (m *machine) enterTimes(ctx context.Context, occ model.Occurrence) error {
	sel := m.e.cfg.Selectors
	timeout := m.e.cfg.ElementTimeout

	if err := m.page.SelectOption(ctx, sel.StartTime, occ.StartTime, timeout); err != nil {
		return err
	}
	if err := m.page.SelectOption(ctx, sel.EndTime, occ.EndTime, timeout); err != nil {
		return err
	}
	if occ.Comment != "" {
		return m.page.TypeInto(ctx, sel.Comments, occ.Comment, true, timeout)
	}
	return nil
}

// submit saves the form and resolves any banner the site shows.
func (m *machine) submit(ctx context.Context, occ model.Occurrence) error {
	sel := m.e.cfg.Selectors
	timeout := m.e.cfg.ElementTimeout

	if err := m.page.Click(ctx, sel.Save, timeout); err != nil {
		m.cancelEntry(ctx)
		return fail(stateSubmit, err)
	}

	for round := 1; ; round++ {
		if !m.visible(ctx, sel.ErrorBanner) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		}
		if !m.visible(ctx, sel.ConflictReason) {
			m.cancelEntry(ctx)
			return fail(stateSubmit, fmt.Errorf("%w: entry rejected", model.ErrConflict))
		}
		if round > m.e.cfg.MaxConflictRounds {
			m.dismissConflict(ctx)
			return fail(stateConflict, fmt.Errorf("%w: conflict persisted after %d confirmations", model.ErrConflict, round-1))
		}

		confirmed, err := m.confirmConflict(ctx, occ)
		if err != nil {
			return err
		}
		if !confirmed {
			m.dismissConflict(ctx)
			return fail(stateConflict, fmt.Errorf("%w: conflict not confirmed", model.ErrConflict))
		}
		if err := m.page.Click(ctx, sel.Continue, timeout); err != nil {
			m.dismissConflict(ctx)
			return fail(stateConflict, err)
		}
	}
}

func (m *machine) confirmConflict(ctx context.Context, occ model.Occurrence) (bool, error) {
	if m.e.deps.Prompter == nil {
		return false, nil
	}
	m.e.emit(m.runID, fmt.Sprintf("Schedule conflict for %s, waiting for confirmation", occ), false)
	ok, err := m.e.deps.Prompter.ConfirmConflict(ctx, occ)
	switch {
	case err == nil:
		return ok, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	default:
		appLog.Error("automation: conflict confirmation", err, "run", m.runID, "occurrence", occ.String())
		return false, nil
	}
}

// dismissConflict closes the conflict warning and then the form.
func (m *machine) dismissConflict(ctx context.Context) {
	if err := m.page.Click(ctx, m.e.cfg.Selectors.CancelWarning, m.e.cfg.ElementTimeout); err != nil {
		appLog.Debug("automation: dismiss warning", "run", m.runID, "err", err)
	}
	m.cancelEntry(ctx)
}

// cancelEntry closes the add-time form if it is still open.
func (m *machine) cancelEntry(ctx context.Context) {
	sel := m.e.cfg.Selectors.CancelButton
	if !m.visible(ctx, sel) {
		return
	}
	if err := m.page.Click(ctx, sel, m.e.cfg.ElementTimeout); err != nil {
		appLog.Debug("automation: cancel entry", "run", m.runID, "err", err)
	}
}

func (m *machine) visible(ctx context.Context, sel string) bool {
	return m.page.WaitVisible(ctx, sel, m.e.cfg.BannerTimeout) == nil
}
