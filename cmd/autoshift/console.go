package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"

	"autoshift/internal/automation"
	appLog "autoshift/internal/log"
	"autoshift/internal/model"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	errStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	sectionStyle = lipgloss.NewStyle().MarginTop(1)
)

// consoleNotifier prints run progress.
type consoleNotifier struct {
	out io.Writer
}

func (n consoleNotifier) Notify(ev model.Event) {
	ts := mutedStyle.Render(ev.Time.Format("15:04:05"))
	msg := ev.Message
	switch {
	case ev.IsFinal && strings.HasPrefix(msg, "Error"):
		msg = errStyle.Render(msg)
	case ev.IsFinal:
		msg = okStyle.Render(msg)
	case strings.HasPrefix(msg, "Skipped"), strings.HasPrefix(msg, "Schedule conflict"):
		msg = warnStyle.Render(msg)
	}
	fmt.Fprintf(n.out, "%s %s\n", ts, msg)
}

// consolePrompter asks yes/no questions on the terminal. Unanswered
// questions expire after timeout. Input typed while no question is open is
// dropped, so a stray keystroke never answers a later question.
type consolePrompter struct {
	out       io.Writer
	timeout   time.Duration
	assumeRun bool

	mu      sync.Mutex
	waiting chan string // set while a question is open
	eof     chan struct{}
	dropped atomic.Int32
}

func newConsolePrompter(in io.Reader, out io.Writer, timeout time.Duration, assumeRun bool) *consolePrompter {
	p := &consolePrompter{out: out, timeout: timeout, assumeRun: assumeRun, eof: make(chan struct{})}
	go p.readLines(in)
	return p
}

// readLines hands each line to the open question; it lives until in closes.
func (p *consolePrompter) readLines(in io.Reader) {
	defer close(p.eof)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		p.mu.Lock()
		waiting := p.waiting
		p.waiting = nil
		p.mu.Unlock()
		if waiting == nil {
			p.dropped.Add(1)
			appLog.Debug("console: ignoring input, no question open")
			continue
		}
		waiting <- sc.Text()
	}
}

// asking reports whether a question is waiting for input.
func (p *consolePrompter) asking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting != nil
}

func (p *consolePrompter) ConfirmRun(ctx context.Context, req automation.RunRequest) (bool, error) {
	if p.assumeRun {
		return true, nil
	}
	return p.confirm(ctx, fmt.Sprintf("Add all shifts from %s to %s? A browser window will open for you to log in.", req.Start, req.End))
}

func (p *consolePrompter) ConfirmConflict(ctx context.Context, occ model.Occurrence) (bool, error) {
	return p.confirm(ctx, fmt.Sprintf("%s conflicts with your class schedule. Add it anyway?", occ))
}

// confirm asks question and reports whether the answer was y or yes.
// Closed input counts as no.
func (p *consolePrompter) confirm(ctx context.Context, question string) (bool, error) {
	parent := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	answer := make(chan string, 1)
	p.mu.Lock()
	p.waiting = answer
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.waiting == answer {
			p.waiting = nil
		}
		p.mu.Unlock()
	}()

	fmt.Fprintf(p.out, "%s %s ", titleStyle.Render("?"), question)
	fmt.Fprint(p.out, mutedStyle.Render("[y/N] "))

	select {
	case line := <-answer:
		return isYes(line), nil
	case <-p.eof:
		// The last line may have been delivered just before input closed.
		select {
		case line := <-answer:
			return isYes(line), nil
		default:
		}
		fmt.Fprintln(p.out)
		return false, nil
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		if err := parent.Err(); err != nil {
			return false, err
		}
		return false, automation.ErrConfirmTimeout
	}
}

func isYes(line string) bool {
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
