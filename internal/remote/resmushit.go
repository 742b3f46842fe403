package remote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mio/internal/logging"
	"mio/internal/services"
)

const resmushComponent = "resmushit"

// ReSmushIt uses the reSmush.it web service, which fetches the image from its
// public URL and returns a download link for the compressed result.
type ReSmushIt struct {
	endpoint string
	mapper   PublicURLMapper
	client   HTTPDoer
	timeout  time.Duration
	logger   *slog.Logger
}

type resmushResponse struct {
	Dest      string          `json:"dest"`
	SrcSize   json.Number     `json:"src_size"`
	DestSize  json.Number     `json:"dest_size"`
	Percent   json.Number     `json:"percent"`
	Error     json.RawMessage `json:"error"`
	ErrorLong string          `json:"error_long"`
}

// NewReSmushIt constructs the reSmush.it provider.
func NewReSmushIt(endpoint string, mapper PublicURLMapper, client HTTPDoer, timeout time.Duration, logger *slog.Logger) *ReSmushIt {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ReSmushIt{
		endpoint: strings.TrimSpace(endpoint),
		mapper:   mapper,
		client:   client,
		timeout:  timeout,
		logger:   logger,
	}
}

func (r *ReSmushIt) ServiceName() string { return "reSmush.it" }

func (r *ReSmushIt) IsConfigured() bool { return true }

// Optimize submits the public URL for path and replaces the file with the
// downloaded result.
func (r *ReSmushIt) Optimize(ctx context.Context, path string, opts Options) (bool, error) {
	original, err := checkReadable(resmushComponent, path)
	if err != nil {
		return false, err
	}
	imageURL, ok := r.mapper.URL(path)
	if !ok {
		return false, services.Wrap(services.ErrRemoteFailure, resmushComponent, "map url", "no public url for "+path, nil)
	}

	ctx, cancel := callContext(ctx, r.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("img", imageURL)
	form.Set("qlty", strconv.Itoa(qualityOrDefault(opts.Quality)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, services.Wrap(services.ErrRemoteFailure, resmushComponent, "submit", "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return false, services.Wrap(services.ErrRemoteFailure, resmushComponent, "submit", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, services.Wrap(services.ErrRemoteFailure, resmushComponent, "submit", statusDetail(resp), nil)
	}

	var payload resmushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return false, services.Wrap(services.ErrRemoteFailure, resmushComponent, "decode", "malformed response", err)
	}
	if msg := payload.errorMessage(); msg != "" {
		return false, services.Wrap(services.ErrRemoteFailure, resmushComponent, "submit", msg, nil)
	}
	if strings.TrimSpace(payload.Dest) == "" {
		return false, services.Wrap(services.ErrRemoteFailure, resmushComponent, "submit", "response missing dest", nil)
	}

	if err := download(ctx, r.client, resmushComponent, payload.Dest, path, original, nil); err != nil {
		return false, err
	}
	r.logger.Info("remote optimisation completed",
		logging.String(logging.FieldEventType, "remote_optimized"),
		logging.String(logging.FieldPath, path),
		logging.String("service", r.ServiceName()),
		logging.String("src_size", payload.SrcSize.String()),
		logging.String("dest_size", payload.DestSize.String()),
		logging.String("percent", payload.Percent.String()),
	)
	return true, nil
}

func (p resmushResponse) errorMessage() string {
	raw := strings.TrimSpace(string(p.Error))
	if raw == "" || raw == "null" {
		return ""
	}
	var code string
	var num json.Number
	switch {
	case json.Unmarshal(p.Error, &code) == nil:
	case json.Unmarshal(p.Error, &num) == nil:
		code = num.String()
	default:
		code = raw
	}
	if p.ErrorLong != "" {
		return "error " + code + ": " + p.ErrorLong
	}
	return "error " + code
}
