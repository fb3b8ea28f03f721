package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dunamismax/pixelserve/internal/fault"
)

const httpOriginStage = "http_origin"

// HTTPOrigin fetches source images from a remote origin by joining a
// configured base URL with the request key. The response body is handed to
// the caller live, not buffered.
type HTTPOrigin struct {
	httpClient *http.Client
	baseURL    *url.URL
}

func NewHTTPOrigin(baseURL string, timeout time.Duration) (*HTTPOrigin, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse origin base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("origin base url requires scheme and host, got %q", baseURL)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPOrigin{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    parsed,
	}, nil
}

func (o *HTTPOrigin) Fetch(ctx context.Context, key string) (*Payload, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return nil, fault.New(fault.KindValidation, httpOriginStage, "missing source key")
	}

	endpoint := o.baseURL.JoinPath(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstream, httpOriginStage, "build origin request", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstream, httpOriginStage, fmt.Sprintf("origin request for %s failed", key), err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fault.New(fault.KindNotFound, httpOriginStage, fmt.Sprintf("source %s not found at origin", key))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fault.New(fault.KindUpstream, httpOriginStage, fmt.Sprintf("origin returned status %d for %s", resp.StatusCode, key))
	}

	size := resp.ContentLength
	if size < 0 {
		size = SizeUnknown
	}

	return &Payload{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        size,
	}, nil
}
