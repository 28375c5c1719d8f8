// Package attribution captures marketing identifiers from page addresses and
// forwards them to the checkout provider. Every failure is swallowed: the
// worst outcome is a checkout link carrying only the synthesized fields.
package attribution

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"funnel-engine/internal/clock"
	"funnel-engine/internal/kv"
)

const (
	cacheKey = "attribution"

	// MaxValueLength bounds forwarded values, in characters.
	MaxValueLength = 200

	// Delimiter joins the composite identifier parts.
	Delimiter = "hQwK21wXxR"
)

// Capture holds the parameters found on the page currently open in a
// session, backed by the session's attribution cache.
type Capture struct {
	kv      kv.Store
	session string
	clock   clock.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	current Params
}

func New(store kv.Store, session string, clk clock.Clock, logger *zap.Logger) *Capture {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capture{kv: store, session: session, clock: clk, logger: logger}
}

// FromAddress parses rawQuery, keeps allow-listed keys and, when anything was
// found, replaces the cached set wholesale. rawQuery may be a full URL.
func (c *Capture) FromAddress(ctx context.Context, rawQuery string) Params {
	found := parse(rawQuery, c.logger)

	c.mu.Lock()
	c.current = found
	c.mu.Unlock()

	if len(found) == 0 {
		return Params{}
	}
	raw, err := json.Marshal(found)
	if err != nil {
		c.logger.Debug("encode attribution", zap.Error(err))
		return found
	}
	if err := c.kv.Set(ctx, kv.Key(c.session, cacheKey), raw); err != nil {
		c.logger.Debug("persist attribution", zap.String("session", c.session), zap.Error(err))
	}
	return found
}

// ForwardingParams returns the current page's parameters, else the cached
// set, else an empty mapping.
func (c *Capture) ForwardingParams(ctx context.Context) Params {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	if len(current) > 0 {
		return copyParams(current)
	}

	raw, err := c.kv.Get(ctx, kv.Key(c.session, cacheKey))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.logger.Debug("load attribution", zap.String("session", c.session), zap.Error(err))
		}
		return Params{}
	}
	var cached Params
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.Debug("decode attribution", zap.String("session", c.session), zap.Error(err))
		return Params{}
	}
	if cached == nil {
		return Params{}
	}
	return cached
}

// ForwardingQuery builds the query string appended to the checkout link.
func (c *Capture) ForwardingQuery(ctx context.Context) string {
	return BuildQuery(c.ForwardingParams(ctx), c.clock.Now().UnixMilli())
}

// CheckoutURL appends the forwarding query to base.
func (c *Capture) CheckoutURL(ctx context.Context, base string) string {
	return JoinURL(base, c.ForwardingQuery(ctx))
}

// BuildQuery filters params, encodes them in key order and appends the
// synthesized xcod, sck and bid fields.
func BuildQuery(params Params, bid int64) string {
	kept := Params{}
	for k, v := range params {
		if v == "" || utf8.RuneCountInString(v) > MaxValueLength || !Allowed(k) {
			continue
		}
		kept[k] = v
	}

	keys := make([]string, 0, len(kept))
	for k := range kept {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+3)
	for _, k := range keys {
		parts = append(parts, encode(k)+"="+encode(kept[k]))
	}

	composite := encode(Composite(kept))
	parts = append(parts,
		"xcod="+composite,
		"sck="+composite,
		"bid="+strconv.FormatInt(bid, 10),
	)
	return strings.Join(parts, "&")
}

// Composite joins source, campaign, medium, content and term with Delimiter.
func Composite(params Params) string {
	source, ok := params.lookup("utm_source")
	if !ok || source == "" {
		if source, ok = params.clickID(); !ok {
			source = "direct"
		}
	}
	return strings.Join([]string{
		source,
		valueOr(params, "utm_campaign", "no_campaign"),
		valueOr(params, "utm_medium", "no_medium"),
		valueOr(params, "utm_content", "no_content"),
		valueOr(params, "utm_term", "no_term"),
	}, Delimiter)
}

// JoinURL appends query to base with the right separator.
func JoinURL(base, query string) string {
	if query == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
		if strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&") {
			sep = ""
		}
	}
	return base + sep + query
}

func valueOr(params Params, key, fallback string) string {
	if v, ok := params.lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

// encode matches encodeURIComponent: spaces become %20, not +.
func encode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func parse(rawQuery string, logger *zap.Logger) Params {
	q := rawQuery
	if i := strings.IndexByte(q, '?'); i >= 0 {
		q = q[i+1:]
	}
	if i := strings.IndexByte(q, '#'); i >= 0 {
		q = q[:i]
	}
	found := Params{}
	for _, pair := range strings.Split(q, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			logger.Debug("skip malformed key", zap.String("key", rawKey), zap.Error(err))
			continue
		}
		if !Allowed(key) {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			logger.Debug("skip malformed value", zap.String("key", key), zap.Error(err))
			continue
		}
		found[key] = value
	}
	return found
}

func copyParams(p Params) Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
