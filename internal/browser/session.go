// Package browser starts Chrome through a provisioned chromedriver and exposes
// the page to the automation engine over the DevTools protocol (chromedp).
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"

	appLog "autoshift/internal/log"
)

// Default launch parameters.
const (
	DefaultWidth        = 1280
	DefaultHeight       = 900
	DefaultStartTimeout = 15 * time.Second
)

// Options defines how the browser session is started.
type Options struct {
	// DriverPath is the chromedriver binary from internal/driver.
	DriverPath string

	// Headless hides the window. The operator normally needs to see it to log in.
	Headless bool

	// Width and Height are the initial window size. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// StartTimeout bounds chromedriver startup and session creation.
	StartTimeout time.Duration

	// ExtraArgs are appended to the Chrome command line.
	ExtraArgs []string
}

// Session is one Chrome instance owned by chromedriver and controlled via
// chromedp. It is not safe for concurrent use.
type Session struct {
	service *selenium.Service
	wd      selenium.WebDriver

	ctx    context.Context
	cancel context.CancelFunc
}

// Launch starts chromedriver, asks it for a Chrome session, and attaches
// chromedp to that Chrome's first tab.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	if opts.DriverPath == "" {
		return nil, fmt.Errorf("browser: DriverPath is required")
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("browser: pick port: %w", err)
	}

	s, err := startWithin(ctx, opts.StartTimeout, func() (*Session, error) {
		return openSession(opts.DriverPath, port, chromeArgs(opts))
	})
	if err != nil {
		return nil, err
	}

	debuggerAddr, err := debuggerAddress(s.wd)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.attach(ctx, debuggerAddr); err != nil {
		_ = s.Close()
		return nil, err
	}

	appLog.Info("browser session started", "driver", opts.DriverPath, "port", port, "debugger", debuggerAddr)
	return s, nil
}

func chromeArgs(opts Options) []string {
	args := []string{fmt.Sprintf("--window-size=%d,%d", opts.Width, opts.Height)}
	if opts.Headless {
		args = append(args, "--headless=new")
	}
	return append(args, opts.ExtraArgs...)
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// openSession starts chromedriver on port and opens a WebDriver session.
func openSession(driverPath string, port int, args []string) (*Session, error) {
	svc, err := selenium.NewChromeDriverService(driverPath, port)
	if err != nil {
		return nil, fmt.Errorf("browser: start chromedriver: %w", err)
	}
	wd, err := newRemote(fmt.Sprintf("http://localhost:%d/wd/hub", port), args)
	if err != nil {
		_ = svc.Stop()
		return nil, err
	}
	return &Session{service: svc, wd: wd}, nil
}

// newRemote creates a Chrome session on the WebDriver server at url.
func newRemote(url string, args []string) (selenium.WebDriver, error) {
	caps := selenium.Capabilities{"browserName": "chrome"}
	caps.AddChrome(chrome.Capabilities{Args: args})
	wd, err := selenium.NewRemote(caps, url)
	if err != nil {
		return nil, fmt.Errorf("browser: create session: %w", err)
	}
	return wd, nil
}

// startWithin runs start, giving up after timeout or when ctx ends. A start
// that finishes after that is closed in the background.
func startWithin(ctx context.Context, timeout time.Duration, start func() (*Session, error)) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		s   *Session
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := start()
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		return r.s, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.s != nil {
				_ = r.s.Close()
			}
		}()
		return nil, fmt.Errorf("browser: chromedriver did not start: %w", ctx.Err())
	}
}

// debuggerAddress reads Chrome's DevTools address from the session capabilities.
func debuggerAddress(wd selenium.WebDriver) (string, error) {
	caps, err := wd.Capabilities()
	if err != nil {
		return "", fmt.Errorf("browser: read capabilities: %w", err)
	}
	opts, _ := caps[chrome.CapabilitiesKey].(map[string]any)
	addr, _ := opts["debuggerAddress"].(string)
	if addr == "" {
		return "", errors.New("browser: chromedriver did not report a debugger address")
	}
	return addr, nil
}

// attach connects chromedp to the running Chrome and selects its first page.
func (s *Session) attach(parent context.Context, debuggerAddr string) error {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(parent, "ws://"+debuggerAddr)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	cancel := func() {
		browserCancel()
		allocCancel()
	}

	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("browser: list targets: %w", err)
	}

	tabCtx := browserCtx
	for _, t := range targets {
		if t.Type == "page" {
			var tabCancel context.CancelFunc
			tabCtx, tabCancel = chromedp.NewContext(browserCtx, chromedp.WithTargetID(t.TargetID))
			prev := cancel
			cancel = func() {
				tabCancel()
				prev()
			}
			break
		}
	}

	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return fmt.Errorf("browser: attach to tab: %w", err)
	}
	s.ctx = tabCtx
	s.cancel = cancel
	return nil
}

// Close ends the WebDriver session (which quits Chrome) and stops chromedriver.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	var errs []error
	if s.wd != nil {
		errs = append(errs, s.wd.Quit())
		s.wd = nil
	}
	if s.service != nil {
		errs = append(errs, s.service.Stop())
		s.service = nil
	}
	return errors.Join(errs...)
}
