package topology

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Source reports the current member list of the HA cluster.
type Source interface {
	// Name identifies the source in logs and errors.
	Name() string

	// Members queries the control plane.
	Members(ctx context.Context) ([]Member, error)
}

// Notifier is implemented by sources that push change notifications.
// Monitor.Run refreshes as soon as a notification arrives.
type Notifier interface {
	Watch(ctx context.Context) <-chan struct{}
}

// maxResponseBytes caps the control plane response size.
const maxResponseBytes = 1 << 20

// HTTPSource queries the control plane REST API of one member with
// GET /cluster.
type HTTPSource struct {
	url    string
	client *http.Client
}

var _ Source = (*HTTPSource)(nil)

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient sets the HTTP client. Timeouts come from the context passed
// to Members, so the client does not need one.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if c != nil {
			s.client = c
		}
	}
}

// NewHTTPSource creates a source for endpoint. The endpoint is either
// "host:port" or a full base URL; "/cluster" is appended.
func NewHTTPSource(endpoint string, opts ...HTTPOption) *HTTPSource {
	base := strings.TrimRight(endpoint, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	s := &HTTPSource{
		url:    base + "/cluster",
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// HTTPSources creates one HTTPSource per endpoint, in order.
func HTTPSources(endpoints []string, opts ...HTTPOption) []Source {
	sources := make([]Source, 0, len(endpoints))
	for _, ep := range endpoints {
		sources = append(sources, NewHTTPSource(ep, opts...))
	}

	return sources
}

// Name returns the request URL.
func (s *HTTPSource) Name() string {
	return s.url
}

// Members fetches and parses the member list.
func (s *HTTPSource) Members(ctx context.Context) ([]Member, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", s.url, resp.Status)
	}

	return ParseMembers(body)
}
