package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"mio/internal/logging"
	"mio/internal/services"
)

const tinyComponent = "tinypng"

// TinyPNG uploads the image bytes to the Tinify shrink endpoint.
type TinyPNG struct {
	endpoint string
	apiKey   string
	client   HTTPDoer
	timeout  time.Duration
	logger   *slog.Logger
}

type tinyResponse struct {
	Input struct {
		Size int64 `json:"size"`
	} `json:"input"`
	Output struct {
		Size  int64   `json:"size"`
		Ratio float64 `json:"ratio"`
		URL   string  `json:"url"`
	} `json:"output"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewTinyPNG constructs the TinyPNG provider. It is configured only when
// apiKey is non-empty.
func NewTinyPNG(endpoint, apiKey string, client HTTPDoer, timeout time.Duration, logger *slog.Logger) *TinyPNG {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TinyPNG{
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		client:   client,
		timeout:  timeout,
		logger:   logger,
	}
}

func (t *TinyPNG) ServiceName() string { return "TinyPNG" }

func (t *TinyPNG) IsConfigured() bool { return t.apiKey != "" }

// Optimize uploads path and replaces it with the shrunk result.
func (t *TinyPNG) Optimize(ctx context.Context, path string, _ Options) (bool, error) {
	if !t.IsConfigured() {
		return false, services.Wrap(services.ErrConfiguration, tinyComponent, "optimize", "api key not configured", nil)
	}
	original, err := checkReadable(tinyComponent, path)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, services.Wrap(services.ErrRemoteFailure, tinyComponent, "read", path, err)
	}

	ctx, cancel := callContext(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(data))
	if err != nil {
		return false, services.Wrap(services.ErrRemoteFailure, tinyComponent, "shrink", "build request", err)
	}
	t.authorize(req)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return false, services.Wrap(services.ErrRemoteFailure, tinyComponent, "shrink", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return false, services.Wrap(services.ErrRemoteFailure, tinyComponent, "shrink", statusDetail(resp), nil)
	}

	var payload tinyResponse
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, services.Wrap(services.ErrRemoteFailure, tinyComponent, "shrink", "read response", err)
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return false, services.Wrap(services.ErrRemoteFailure, tinyComponent, "decode", "malformed response", err)
		}
	}
	if payload.Error != "" {
		return false, services.Wrap(services.ErrRemoteFailure, tinyComponent, "shrink", payload.Error+": "+payload.Message, nil)
	}
	resultURL := strings.TrimSpace(resp.Header.Get("Location"))
	if resultURL == "" {
		resultURL = strings.TrimSpace(payload.Output.URL)
	}
	if resultURL == "" {
		return false, services.Wrap(services.ErrRemoteFailure, tinyComponent, "shrink", "response missing result location", nil)
	}

	if err := download(ctx, t.client, tinyComponent, resultURL, path, original, t.authorize); err != nil {
		return false, err
	}
	t.logger.Info("remote optimisation completed",
		logging.String(logging.FieldEventType, "remote_optimized"),
		logging.String(logging.FieldPath, path),
		logging.String("service", t.ServiceName()),
		logging.Int64("src_size", payload.Input.Size),
		logging.Int64("dest_size", payload.Output.Size),
	)
	return true, nil
}

func (t *TinyPNG) authorize(req *http.Request) {
	req.SetBasicAuth("api", t.apiKey)
}
