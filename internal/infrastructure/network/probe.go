package network

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/riskibarqy/teamsync/internal/platform/cache"
	"github.com/riskibarqy/teamsync/internal/platform/logging"
	"github.com/valyala/fasthttp"
)

// ManualProbe is driven by the host shell, which knows about radio state
// better than any health check.
type ManualProbe struct {
	mu        sync.Mutex
	online    bool
	listeners []func()
}

func NewManualProbe(online bool) *ManualProbe {
	return &ManualProbe{online: online}
}

func (p *ManualProbe) Online(_ context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// SetOnline records reachability. Listeners run on the offline to online edge only.
func (p *ManualProbe) SetOnline(online bool) {
	p.mu.Lock()
	regained := online && !p.online
	p.online = online
	listeners := append([]func(){}, p.listeners...)
	p.mu.Unlock()

	if !regained {
		return
	}
	for _, fn := range listeners {
		fn()
	}
}

// OnReconnect registers fn to run whenever connectivity comes back.
func (p *ManualProbe) OnReconnect(fn func()) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

type HTTPProbeConfig struct {
	URL      string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// HTTPProbe checks a health URL with a HEAD request. Answers are cached
// briefly so a burst of triggers costs one request.
type HTTPProbe struct {
	url     string
	timeout time.Duration
	client  *fasthttp.Client
	results *cache.Store[bool]
	logger  *logging.Logger
}

func NewHTTPProbe(cfg HTTPProbeConfig, clock clockwork.Clock, logger *logging.Logger) *HTTPProbe {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPProbe{
		url:     strings.TrimSpace(cfg.URL),
		timeout: timeout,
		client: &fasthttp.Client{
			Name:                "teamsync-probe",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
		results: cache.NewStore[bool](ttl, clock),
		logger:  logger.Named("probe"),
	}
}

func (p *HTTPProbe) Online(ctx context.Context) bool {
	if p.url == "" {
		return true
	}
	online, err := p.results.GetOrLoad(ctx, p.url, p.check)
	if err != nil {
		return false
	}
	return online
}

func (p *HTTPProbe) check(ctx context.Context) (bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.url)
	req.Header.SetMethod(fasthttp.MethodHead)

	deadline := time.Now().Add(p.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := p.client.DoDeadline(req, resp, deadline); err != nil {
		p.logger.DebugContext(ctx, "backend unreachable", "url", p.url, "error", err)
		return false, nil
	}

	// Any answer below 500 means the network path works, even a 401 or 404.
	return resp.StatusCode() < fasthttp.StatusInternalServerError, nil
}
