package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Brownie44l1/certan-api/internal/domain"
)

type Config struct {
	URL  string
	Path string

	Timeout            time.Duration
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

// Fetcher keeps a single remote file cached on local disk. It downloads
// only when the file is missing and never retries on its own.
type Fetcher struct {
	url        string
	path       string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[string]

	// downloaded is set once this fetcher has written the file itself.
	downloaded atomic.Bool
}

func New(cfg Config) *Fetcher {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 3
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "model_download",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	})

	return &Fetcher{
		url:        cfg.URL,
		path:       cfg.Path,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

func (f *Fetcher) Path() string {
	return f.path
}

// Ensure returns the local path, downloading the file first if it is absent.
func (f *Fetcher) Ensure(ctx context.Context) (string, error) {
	if f.path == "" {
		return "", domain.WrapError(domain.ErrModelUnavailable, "ensure artifact", errors.New("no local path configured"))
	}

	info, err := os.Stat(f.path)
	switch {
	case err == nil && info.Size() > 0:
		return f.path, nil
	case err == nil:
		slog.Warn("model_artifact_empty", "path", f.path)
	case !errors.Is(err, os.ErrNotExist):
		return "", domain.WrapError(domain.ErrModelUnavailable, "ensure artifact", err)
	}

	if f.url == "" {
		return "", domain.WrapError(domain.ErrModelUnavailable, "ensure artifact",
			fmt.Errorf("%s is missing and no download URL is configured", f.path))
	}

	path, err := f.breaker.Execute(func() (string, error) {
		return f.path, f.download(ctx)
	})
	if err != nil {
		if IsCircuitOpen(err) {
			err = fmt.Errorf("remote fetch paused after repeated failures: %w", err)
		}
		return "", domain.WrapError(domain.ErrModelUnavailable, "download artifact", err)
	}
	return path, nil
}

// Discard removes a file this fetcher downloaded so that the next Ensure
// fetches it again. A file that was already on disk is left alone.
func (f *Fetcher) Discard(path string) error {
	if path != f.path || !f.downloaded.Load() {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard model file: %w", err)
	}
	f.downloaded.Store(false)
	slog.Warn("model_artifact_discarded", "path", f.path)
	return nil
}

func (f *Fetcher) download(ctx context.Context) error {
	start := time.Now()
	slog.Info("model_download_started", "url", f.url, "path", f.path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("download status: %s", resp.Status)
	}
	// Large files on file-sharing hosts answer with an HTML confirmation page.
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType == "text/html" {
		return errors.New("download returned an HTML page instead of the model file")
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write model file: %w", err)
	}
	if n == 0 {
		return errors.New("download returned an empty body")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("move model file into place: %w", err)
	}
	f.downloaded.Store(true)

	slog.Info("model_download_finished",
		"path", f.path,
		"bytes", n,
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
	)
	return nil
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
