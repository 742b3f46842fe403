package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"mio/internal/config"
	"mio/internal/fileutil"
	"mio/internal/logging"
	"mio/internal/services"
)

const (
	defaultQuality = 82
	maxDownload    = 64 << 20
	userAgent      = "mio-optimizer/1.0"
)

// HTTPDoer describes the HTTP client used by the providers.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options carries the per-call compression policy.
type Options struct {
	Quality int
}

// Provider is a hosted compression service. Optimize reports true when the
// file at path holds the provider's result (or was already minimal).
type Provider interface {
	Optimize(ctx context.Context, path string, opts Options) (bool, error)
	IsConfigured() bool
	ServiceName() string
}

// ConnectionResult reports whether a provider is ready to accept work.
type ConnectionResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// NewProvider returns the configured provider. A TinyPNG selection without an
// API key falls back to reSmush.it.
func NewProvider(cfg *config.Config, doer HTTPDoer, logger *slog.Logger) Provider {
	logger = logging.NewComponentLogger(logger, "remote")
	if cfg.Remote.Service == config.ServiceTinyPNG {
		tiny, _ := ProviderByName(cfg, config.ServiceTinyPNG, doer, logger)
		if tiny.IsConfigured() {
			logger.Debug("using remote provider", logging.String("service", tiny.ServiceName()))
			return tiny
		}
		logging.WarnWithContext(logger, "tinypng selected without api key; falling back to resmush.it", "remote_fallback",
			logging.String(logging.FieldErrorHint, "set remote.tinypng_api_key or MIO_TINYPNG_API_KEY"),
			logging.String(logging.FieldImpact, "remote optimisation uses reSmush.it"),
		)
	}
	resmush, _ := ProviderByName(cfg, config.ServiceReSmushIt, doer, logger)
	logger.Debug("using remote provider", logging.String("service", resmush.ServiceName()))
	return resmush
}

// ProviderByName builds the named provider without any fallback. Unknown
// names report false.
func ProviderByName(cfg *config.Config, name string, doer HTTPDoer, logger *slog.Logger) (Provider, bool) {
	timeout := cfg.RemoteTimeout()
	if doer == nil {
		doer = &http.Client{Timeout: timeout}
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case config.ServiceReSmushIt:
		mapper := NewPublicURLMapper(cfg.Paths.MediaRoot, cfg.Remote.PublicBaseURL)
		return NewReSmushIt(cfg.Remote.ReSmushItEndpoint, mapper, doer, timeout, logger), true
	case config.ServiceTinyPNG:
		return NewTinyPNG(cfg.Remote.TinyPNGEndpoint, cfg.Remote.TinyPNGAPIKey, doer, timeout, logger), true
	default:
		return nil, false
	}
}

// TestConnection reports readiness from configuration alone.
func TestConnection(p Provider) ConnectionResult {
	if p == nil {
		return ConnectionResult{OK: false, Message: "no remote provider configured"}
	}
	if !p.IsConfigured() {
		return ConnectionResult{OK: false, Message: fmt.Sprintf("%s is not properly configured", p.ServiceName())}
	}
	return ConnectionResult{OK: true, Message: fmt.Sprintf("%s is configured and ready", p.ServiceName())}
}

func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func checkReadable(component, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, services.Wrap(services.ErrNotFound, component, "stat", path, err)
		}
		return 0, services.Wrap(services.ErrRemoteFailure, component, "stat", path, err)
	}
	if info.IsDir() {
		return 0, services.Wrap(services.ErrNotFound, component, "stat", "path is a directory", nil)
	}
	return info.Size(), nil
}

// download fetches url and replaces path with the body when it is smaller
// than original. The original is left untouched on any error.
func download(ctx context.Context, doer HTTPDoer, component, url, path string, original int64, decorate func(*http.Request)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return services.Wrap(services.ErrRemoteFailure, component, "download", "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if decorate != nil {
		decorate(req)
	}
	resp, err := doer.Do(req)
	if err != nil {
		return services.Wrap(services.ErrRemoteFailure, component, "download", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrRemoteFailure, component, "download", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return services.Wrap(services.ErrRemoteFailure, component, "download", "read body", err)
	}
	if len(data) == 0 || len(data) > maxDownload {
		return services.Wrap(services.ErrRemoteFailure, component, "download", fmt.Sprintf("unexpected body size %d", len(data)), nil)
	}
	if int64(len(data)) >= original {
		return nil
	}
	if err := fileutil.WriteFileAtomic(path, data); err != nil {
		return services.Wrap(services.ErrRemoteFailure, component, "write", path, err)
	}
	return nil
}

func statusDetail(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", resp.StatusCode, detail)
}

func qualityOrDefault(q int) int {
	if q <= 0 || q > 100 {
		return defaultQuality
	}
	return q
}
