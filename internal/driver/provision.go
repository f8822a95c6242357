// Package driver keeps a chromedriver binary matching the installed Chrome.
package driver

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	appLog "autoshift/internal/log"
	"autoshift/internal/model"
)

// DefaultURLBase is the Chrome for Testing distribution root.
const DefaultURLBase = "https://storage.googleapis.com/chrome-for-testing-public"

// ErrUnsupportedPlatform is returned for OS/arch pairs without a driver build.
var ErrUnsupportedPlatform = fmt.Errorf("%w: unsupported platform", model.ErrProvisioning)

var (
	browserVersionPattern = regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+)`)
	driverVersionPattern  = regexp.MustCompile(`ChromeDriver (\d+\.\d+\.\d+\.\d+)`)
)

// Commander runs a program and returns its combined output.
type Commander interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execCommander struct{}

func (execCommander) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Options configures a Provisioner. Zero fields fall back to the real
// platform, filesystem, network, and process execution.
type Options struct {
	// Dir receives the unpacked driver, e.g. ~/AutoShift/chrome-driver.
	Dir     string
	URLBase string
	// BrowserBinary, if set, is run with --version instead of the platform default.
	BrowserBinary string

	GOOS   string
	GOARCH string

	Fs        afero.Fs
	Client    *http.Client
	Commander Commander

	// Progress receives human-readable status lines.
	Progress func(msg string)
}

// Provisioner downloads and verifies chromedriver.
type Provisioner struct {
	opts Options
}

// statusError is a non-2xx download response.
type statusError struct {
	URL    string
	Status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("download %s: HTTP status %d", e.URL, e.Status)
}

func New(opts Options) *Provisioner {
	if opts.URLBase == "" {
		opts.URLBase = DefaultURLBase
	}
	opts.URLBase = strings.TrimRight(opts.URLBase, "/")
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.GOARCH == "" {
		opts.GOARCH = runtime.GOARCH
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 2 * time.Minute}
	}
	if opts.Commander == nil {
		opts.Commander = execCommander{}
	}
	if opts.Progress == nil {
		opts.Progress = func(string) {}
	}
	return &Provisioner{opts: opts}
}

// Platform returns the Chrome for Testing platform id for this machine.
func (p *Provisioner) Platform() (string, error) {
	switch p.opts.GOOS + "/" + p.opts.GOARCH {
	case "windows/amd64":
		return "win64", nil
	case "windows/386":
		return "win32", nil
	case "darwin/arm64":
		return "mac-arm64", nil
	case "darwin/amd64":
		return "mac-x64", nil
	case "linux/amd64":
		return "linux64", nil
	}
	return "", fmt.Errorf("%w: %s/%s (supported: Windows, macOS, Linux x64)", ErrUnsupportedPlatform, p.opts.GOOS, p.opts.GOARCH)
}

// DriverPath is where the driver binary lives once installed.
func (p *Provisioner) DriverPath() (string, error) {
	platform, err := p.Platform()
	if err != nil {
		return "", err
	}
	name := "chromedriver"
	if p.opts.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(p.opts.Dir, "chromedriver-"+platform, name), nil
}

// EnsureDriver returns the path of a driver whose version matches the
// installed browser, downloading one if needed. When the installed driver
// already matches, no network access happens.
func (p *Provisioner) EnsureDriver(ctx context.Context) (string, error) {
	if p.opts.Dir == "" {
		return "", fmt.Errorf("%w: driver directory not configured", model.ErrProvisioning)
	}
	path, err := p.DriverPath()
	if err != nil {
		return "", err
	}

	browserVersion, err := p.BrowserVersion(ctx)
	if err != nil {
		return "", err
	}

	if exists, _ := afero.Exists(p.opts.Fs, path); exists {
		driverVersion, err := p.DriverVersion(ctx)
		if err == nil && driverVersion == browserVersion {
			p.progress(ctx, "Chromedriver already exists.")
			return path, nil
		}
		appLog.Info("driver: installed driver does not match browser",
			"driver_version", driverVersion,
			"browser_version", browserVersion,
			"err", err,
		)
		p.progress(ctx, "Chromedriver version mismatch! Updating to compatible version")
	}

	p.progress(ctx, fmt.Sprintf("Latest Chromedriver version: %s", browserVersion))
	if err := p.install(ctx, browserVersion); err != nil {
		return "", err
	}
	p.progress(ctx, "Chromedriver downloaded successfully")
	return path, nil
}

// BrowserVersion asks the installed Chrome for its four-part version.
func (p *Provisioner) BrowserVersion(ctx context.Context) (string, error) {
	var lastErr error
	for _, cmd := range p.versionCommands() {
		out, err := p.opts.Commander.Output(ctx, cmd[0], cmd[1:]...)
		if err != nil {
			lastErr = err
			continue
		}
		if m := browserVersionPattern.FindStringSubmatch(string(out)); m != nil {
			return m[1], nil
		}
		lastErr = fmt.Errorf("no version in output %q", strings.TrimSpace(string(out)))
	}
	return "", fmt.Errorf("%w: failed to get Chrome version: %v", model.ErrProvisioning, lastErr)
}

func (p *Provisioner) versionCommands() [][]string {
	if p.opts.BrowserBinary != "" {
		return [][]string{{p.opts.BrowserBinary, "--version"}}
	}
	switch p.opts.GOOS {
	case "windows":
		return [][]string{{"reg", "query", `HKEY_CURRENT_USER\Software\Google\Chrome\BLBeacon`, "/v", "version"}}
	case "darwin":
		return [][]string{{"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome", "--version"}}
	default:
		return [][]string{
			{"google-chrome", "--version"},
			{"google-chrome-stable", "--version"},
			{"chromium", "--version"},
		}
	}
}

// DriverVersion asks the installed driver for its version.
func (p *Provisioner) DriverVersion(ctx context.Context) (string, error) {
	path, err := p.DriverPath()
	if err != nil {
		return "", err
	}
	out, err := p.opts.Commander.Output(ctx, path, "--version")
	if err != nil {
		return "", fmt.Errorf("run %s --version: %w", path, err)
	}
	m := driverVersionPattern.FindStringSubmatch(string(out))
	if m == nil {
		return "", fmt.Errorf("no ChromeDriver version in output %q", strings.TrimSpace(string(out)))
	}
	return m[1], nil
}

// FallbackVersion decrements the last version component ("131.0.6778.86" ->
// "131.0.6778.85"). Driver builds sometimes lag a browser point release.
func FallbackVersion(version string) (string, bool) {
	parts := strings.Split(version, ".")
	last, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || last <= 0 {
		return "", false
	}
	parts[len(parts)-1] = strconv.Itoa(last - 1)
	return strings.Join(parts, "."), true
}

// install replaces the driver directory with a fresh download of version,
// falling back once to the previous patch release on a non-2xx response.
// On failure the directory is removed so no partial install remains.
func (p *Provisioner) install(ctx context.Context, version string) error {
	platform, err := p.Platform()
	if err != nil {
		return err
	}

	candidates := []string{version}
	if fb, ok := FallbackVersion(version); ok {
		candidates = append(candidates, fb)
	}

	var data []byte
	for i, v := range candidates {
		if i > 0 {
			p.progress(ctx, fmt.Sprintf("Chromedriver %s not available, trying %s", candidates[i-1], v))
		}
		data, err = p.download(ctx, v, platform)
		if err == nil {
			break
		}
		var se *statusError
		if !errors.As(err, &se) {
			return fmt.Errorf("%w: %v", model.ErrProvisioning, err)
		}
		appLog.Error("driver: download rejected", err, "version", v)
	}
	if err != nil {
		return fmt.Errorf("%w: no chromedriver build for %s: %v", model.ErrProvisioning, version, err)
	}

	if err := p.unpack(data); err != nil {
		_ = p.opts.Fs.RemoveAll(p.opts.Dir)
		return fmt.Errorf("%w: failed to extract chromedriver: %v", model.ErrProvisioning, err)
	}
	return nil
}

func (p *Provisioner) download(ctx context.Context, version, platform string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s/chromedriver-%s.zip", p.opts.URLBase, version, platform, platform)
	appLog.Info("driver: download start", "url", url)

	// Transport errors are retried; an HTTP status is an answer, not a glitch.
	return retry.DoWithData(
		func() ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, retry.Unrecoverable(err)
			}
			resp, err := p.opts.Client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return nil, retry.Unrecoverable(&statusError{URL: url, Status: resp.StatusCode})
			}
			return io.ReadAll(resp.Body)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}

// unpack writes the archive into a clean driver directory, extracts it, removes
// the archive, and marks the driver executable.
func (p *Provisioner) unpack(data []byte) error {
	if !isZip(data) {
		return fmt.Errorf("downloaded archive is %s, not a zip", mimetype.Detect(data).String())
	}

	fs := p.opts.Fs
	dir := p.opts.Dir
	if err := fs.RemoveAll(dir); err != nil {
		return err
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	archivePath := filepath.Join(dir, "chromedriver.zip")
	if err := afero.WriteFile(fs, archivePath, data, 0o644); err != nil {
		return err
	}
	if err := p.extract(archivePath); err != nil {
		return err
	}
	if err := fs.Remove(archivePath); err != nil {
		return err
	}

	path, err := p.DriverPath()
	if err != nil {
		return err
	}
	if exists, _ := afero.Exists(fs, path); !exists {
		return fmt.Errorf("archive did not contain %s", filepath.Base(path))
	}
	return fs.Chmod(path, 0o755)
}

// isZip accepts zip and any zip-based format mimetype may report instead.
func isZip(data []byte) bool {
	for mt := mimetype.Detect(data); mt != nil; mt = mt.Parent() {
		if mt.Is("application/zip") {
			return true
		}
	}
	return false
}

func (p *Provisioner) extract(archivePath string) error {
	fs := p.opts.Fs
	f, err := fs.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return err
	}

	root := filepath.Clean(p.opts.Dir) + string(os.PathSeparator)
	for _, entry := range zr.File {
		target := filepath.Join(p.opts.Dir, entry.Name)
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("archive entry %q escapes driver directory", entry.Name)
		}
		if entry.FileInfo().IsDir() {
			if err := fs.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := p.extractFile(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) extractFile(entry *zip.File, target string) error {
	fs := p.opts.Fs
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return err
	}
	return afero.WriteFile(fs, target, buf.Bytes(), entry.Mode().Perm()|0o600)
}

type progressKey struct{}

// WithProgress attaches a per-call progress callback to ctx. EnsureDriver
// reports to it in addition to Options.Progress.
func WithProgress(ctx context.Context, fn func(msg string)) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func (p *Provisioner) progress(ctx context.Context, msg string) {
	appLog.Info("driver: " + msg)
	p.opts.Progress(msg)
	if fn, ok := ctx.Value(progressKey{}).(func(string)); ok && fn != nil {
		fn(msg)
	}
}
