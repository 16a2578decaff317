package honeypot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider is a data-driven Provider: a URL template, headers, and a
// parse function, rather than a base class — exactly the "deep
// inheritance replacement" the spec's design notes call for. Concrete
// third-party honeypot-check HTTP APIs are out of this module's scope
// (spec §1); this type is the shape a thin wrapper over one would take.
type HTTPProvider struct {
	ProviderName   string
	ProviderPriority int
	Client         *http.Client
	URLTemplate    string // e.g. "https://api.example.com/v1/check/%s"
	Headers        map[string]string
	Normalize      NormalizeKind
	Parse          func(body []byte) (score int, flags []Flag, rugged bool, data map[string]any, err error)

	available func() bool
}

// NewHTTPProvider constructs an HTTPProvider with a default http.Client
// (5s timeout); the Client field can be replaced after construction.
func NewHTTPProvider(name string, priority int, urlTemplate string, parse func([]byte) (int, []Flag, bool, map[string]any, error)) *HTTPProvider {
	return &HTTPProvider{
		ProviderName:     name,
		ProviderPriority: priority,
		Client:           &http.Client{Timeout: 5 * time.Second},
		URLTemplate:      urlTemplate,
		Parse:            parse,
		available:        func() bool { return true },
	}
}

func (p *HTTPProvider) Name() string    { return p.ProviderName }
func (p *HTTPProvider) Priority() int    { return p.ProviderPriority }
func (p *HTTPProvider) IsAvailable() bool {
	if p.available == nil {
		return true
	}
	return p.available()
}

// SetAvailability lets a caller wire in a liveness probe (e.g. a prior
// health-check result) instead of always reporting available.
func (p *HTTPProvider) SetAvailability(fn func() bool) { p.available = fn }

func (p *HTTPProvider) Check(ctx context.Context, mint string) (ProviderResult, error) {
	start := time.Now()
	body, err := p.fetch(ctx, mint)
	if err != nil {
		return ProviderResult{}, err
	}
	raw, flags, rugged, data, err := p.Parse(body)
	if err != nil {
		return ProviderResult{}, err
	}
	return ProviderResult{
		Score:     Normalize(p.Normalize, raw),
		Flags:     flags,
		Rugged:    rugged,
		Data:      data,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, mint string) ([]byte, error) {
	url := fmt.Sprintf(p.URLTemplate, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
