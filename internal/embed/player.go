// Package embed mounts the third-party video player of the result page.
package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var ErrScriptUnavailable = errors.New("player script unavailable")

// ScriptLoader fetches the player script.
type ScriptLoader interface {
	Load(ctx context.Context) error
}

// Player loads its script at most once; a failed load is retried by the
// next Mount.
type Player struct {
	loader ScriptLoader
	logger *zap.Logger

	mu     sync.Mutex
	loaded bool
	loads  int
}

func NewPlayer(loader ScriptLoader, logger *zap.Logger) *Player {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Player{loader: loader, logger: logger}
}

// Mount prepares the player for stage. Concurrent mounts share one load.
func (p *Player) Mount(ctx context.Context, stage string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}
	p.loads++
	if err := p.loader.Load(ctx); err != nil {
		p.logger.Warn("player script load failed", zap.String("stage", stage), zap.Int("attempt", p.loads), zap.Error(err))
		return fmt.Errorf("mounting %s: %w", stage, err)
	}
	p.loaded = true
	return nil
}

// Loads returns how many script loads were attempted.
func (p *Player) Loads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads
}

// HTTPScriptLoader checks the player script is reachable.
type HTTPScriptLoader struct {
	url     string
	client  *fasthttp.Client
	timeout time.Duration
}

func NewHTTPScriptLoader(url string, client *fasthttp.Client) *HTTPScriptLoader {
	if client == nil {
		client = &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	}
	return &HTTPScriptLoader{url: url, client: client, timeout: 5 * time.Second}
}

func (l *HTTPScriptLoader) Load(ctx context.Context) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(l.url)
	req.Header.SetMethod(fasthttp.MethodGet)

	timeout := l.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("%w: %v", ErrScriptUnavailable, err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("%w: status %d", ErrScriptUnavailable, code)
	}
	return nil
}

// NopLoader always succeeds; used when no player script is configured.
type NopLoader struct{}

func (NopLoader) Load(context.Context) error { return nil }
