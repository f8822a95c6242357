package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"autoshift/internal/model"
)

const pollInterval = 100 * time.Millisecond

// scoped derives a chromedp context from the tab that also ends when the
// caller's ctx does.
func (s *Session) scoped(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

// wrap maps a chromedp failure to ErrElementNotFound unless the caller itself
// gave up.
func wrap(ctx context.Context, sel string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, chromedp.ErrPollingTimeout) {
		return fmt.Errorf("%w: %s", model.ErrElementNotFound, sel)
	}
	return fmt.Errorf("browser: %s: %w", sel, err)
}

// Navigate loads url in the tab and waits at most timeout for the load event.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	tctx, cancel := s.scoped(ctx, timeout)
	defer cancel()
	err := chromedp.Run(tctx, chromedp.Navigate(url))
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("browser: navigate %s: page did not load within %s", url, timeout)
	}
	return fmt.Errorf("browser: navigate %s: %w", url, err)
}

// WaitVisible blocks until sel is visible or timeout elapses.
func (s *Session) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	tctx, cancel := s.scoped(ctx, timeout)
	defer cancel()
	return wrap(ctx, sel, chromedp.Run(tctx, chromedp.WaitVisible(sel, chromedp.ByQuery)))
}

// Click waits for sel to become visible and clicks it.
func (s *Session) Click(ctx context.Context, sel string, timeout time.Duration) error {
	tctx, cancel := s.scoped(ctx, timeout)
	defer cancel()
	return wrap(ctx, sel, chromedp.Run(tctx, chromedp.Click(sel, chromedp.ByQuery)))
}

// TypeInto sends text to the field at sel, optionally clearing it first.
func (s *Session) TypeInto(ctx context.Context, sel, text string, clear bool, timeout time.Duration) error {
	tctx, cancel := s.scoped(ctx, timeout)
	defer cancel()

	var tasks chromedp.Tasks
	tasks = append(tasks, chromedp.WaitVisible(sel, chromedp.ByQuery))
	if clear {
		tasks = append(tasks, chromedp.Clear(sel, chromedp.ByQuery))
	}
	tasks = append(tasks, chromedp.SendKeys(sel, text, chromedp.ByQuery))
	return wrap(ctx, sel, chromedp.Run(tctx, tasks))
}

const selectOptionJS = `(function(sel, value) {
	const s = document.querySelector(sel);
	if (!s) return false;
	const o = Array.from(s.options).find(o => o.value === value);
	if (!o) return false;
	s.value = value;
	o.selected = true;
	s.dispatchEvent(new Event('input', {bubbles: true}));
	s.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
})(%s, %s)`

// SelectOption picks the option whose value attribute equals value. A select
// that never offers the value yields ErrElementNotFound.
func (s *Session) SelectOption(ctx context.Context, sel, value string, timeout time.Duration) error {
	expr, err := jsCall(selectOptionJS, sel, value)
	if err != nil {
		return err
	}
	tctx, cancel := s.scoped(ctx, timeout)
	defer cancel()

	var ok bool
	err = chromedp.Run(tctx, chromedp.Poll(expr, &ok,
		chromedp.WithPollingInterval(pollInterval),
		chromedp.WithPollingTimeout(timeout),
	))
	if err == nil && !ok {
		err = chromedp.ErrPollingTimeout
	}
	return wrap(ctx, fmt.Sprintf("%s option %q", sel, value), err)
}

const containerTextsJS = `(function(container, child) {
	return Array.from(document.querySelectorAll(container)).map(c => {
		const h = c.querySelector(child);
		return h ? h.innerText : "";
	});
})(%s, %s)`

// ContainerTexts returns, for every element matching containerSel, the text
// of its first childSel descendant ("" when absent). It waits for at least
// one container to be present.
func (s *Session) ContainerTexts(ctx context.Context, containerSel, childSel string, timeout time.Duration) ([]string, error) {
	expr, err := jsCall(containerTextsJS, containerSel, childSel)
	if err != nil {
		return nil, err
	}
	tctx, cancel := s.scoped(ctx, timeout)
	defer cancel()

	var texts []string
	err = chromedp.Run(tctx,
		chromedp.WaitReady(containerSel, chromedp.ByQuery),
		chromedp.Evaluate(expr, &texts),
	)
	if err != nil {
		return nil, wrap(ctx, containerSel, err)
	}
	return texts, nil
}

// ClickWithin clicks the childSel descendant of the index-th containerSel match.
func (s *Session) ClickWithin(ctx context.Context, containerSel string, index int, childSel string, timeout time.Duration) error {
	tctx, cancel := s.scoped(ctx, timeout)
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(tctx, chromedp.Nodes(containerSel, &nodes, chromedp.ByQueryAll)); err != nil {
		return wrap(ctx, containerSel, err)
	}
	if index < 0 || index >= len(nodes) {
		return fmt.Errorf("%w: %s[%d]", model.ErrElementNotFound, containerSel, index)
	}
	err := chromedp.Run(tctx, chromedp.Click(childSel, chromedp.ByQuery, chromedp.FromNode(nodes[index])))
	return wrap(ctx, fmt.Sprintf("%s[%d] %s", containerSel, index, childSel), err)
}

// jsCall formats a JS template with JSON-quoted string arguments.
func jsCall(tmpl string, args ...string) (string, error) {
	quoted := make([]any, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", err
		}
		quoted[i] = string(b)
	}
	return fmt.Sprintf(tmpl, quoted...), nil
}
