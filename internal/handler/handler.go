package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"funnel-engine/internal/engine"
	"funnel-engine/internal/model"
	"funnel-engine/internal/runtime"
	"funnel-engine/internal/session"
	"funnel-engine/internal/transitions"
)

const (
	CookieName   = "funnel_sid"
	cookieMaxAge = 30 * 24 * 60 * 60
)

type Options struct {
	Logger      *zap.Logger
	Tracker     runtime.Tracker
	Gatherer    prometheus.Gatherer
	CheckoutURL string
	Heartbeat   time.Duration
}

type Handler struct {
	sessions    *session.Manager
	logger      *zap.Logger
	tracker     runtime.Tracker
	metrics     fasthttp.RequestHandler
	checkoutURL string
	heartbeat   time.Duration
}

func New(sessions *session.Manager, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &Handler{
		sessions:    sessions,
		logger:      opts.Logger,
		tracker:     opts.Tracker,
		metrics:     fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})),
		checkoutURL: opts.CheckoutURL,
		heartbeat:   opts.Heartbeat,
	}
}

// Handle routes every request of the funnel service.
func (h *Handler) Handle(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := string(ctx.Path())

	switch {
	case path == "/healthz":
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
	case path == "/metrics":
		h.metrics(ctx)

	case path == "/chat" && method == fasthttp.MethodGet:
		h.handlePage(ctx, "chat", "/api/chat/stream")
	case path == "/resultado" && method == fasthttp.MethodGet:
		h.handlePage(ctx, "resultado", "/api/result/stream")

	case path == "/api/chat/stream" && method == fasthttp.MethodGet:
		h.handleChatStream(ctx)
	case path == "/api/chat/start" && method == fasthttp.MethodPost:
		h.postChat(ctx, func() (model.Event, bool) { return model.Event{Kind: model.EventStart}, true })
	case path == "/api/chat/answer" && method == fasthttp.MethodPost:
		h.postChat(ctx, func() (model.Event, bool) {
			var req model.AnswerRequest
			if !decode(ctx, &req) {
				return model.Event{}, false
			}
			return model.Event{Kind: model.EventAnswer, Option: req.Option}, true
		})
	case path == "/api/chat/plan" && method == fasthttp.MethodPost:
		h.postChat(ctx, func() (model.Event, bool) { return model.Event{Kind: model.EventViewPlan}, true })

	case path == "/api/result/stream" && method == fasthttp.MethodGet:
		h.handleResultStream(ctx)
	case path == "/api/result/action" && method == fasthttp.MethodPost:
		h.postResult(ctx, func() (model.Event, bool) {
			var req model.ActionRequest
			if !decode(ctx, &req) {
				return model.Event{}, false
			}
			return model.Event{Kind: model.EventAction, Action: req.Action}, true
		})
	case path == "/api/result/buy" && method == fasthttp.MethodPost:
		h.postResult(ctx, func() (model.Event, bool) {
			var req model.BuyRequest
			if len(ctx.PostBody()) > 0 && !decode(ctx, &req) {
				return model.Event{}, false
			}
			return model.Event{Kind: model.EventBuy, Position: req.Position}, true
		})
	case path == "/api/result/window" && method == fasthttp.MethodPost:
		h.handleWindow(ctx)

	case path == "/checkout" && method == fasthttp.MethodGet:
		h.handleCheckout(ctx)
	case path == "/api/state" && method == fasthttp.MethodGet:
		h.handleState(ctx)
	case path == "/api/state" && method == fasthttp.MethodDelete:
		h.handleReset(ctx)

	default:
		writeError(ctx, fasthttp.StatusNotFound, "Not found")
	}
}

func (h *Handler) handlePage(ctx *fasthttp.RequestCtx, page, stream string) {
	id := string(ctx.Request.Header.Cookie(CookieName))
	if page == "resultado" {
		if sid := string(ctx.QueryArgs().Peek("sid")); sid != "" {
			id = sid
		}
	}
	if id == "" {
		id = session.NewID()
	}
	s, err := h.sessions.Get(id)
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}
	setCookie(ctx, s.ID)

	s.Attribution.FromAddress(ctx, string(ctx.URI().QueryString()))

	writeJSON(ctx, fasthttp.StatusOK, model.PageResponse{
		Page:    page,
		Session: s.ID,
		Stream:  stream,
		State:   s.State.State(ctx),
	})
}

// session resolves the caller's session from the cookie. create allows a
// stream to start without a prior page load.
func (h *Handler) session(ctx *fasthttp.RequestCtx, create bool) (*session.Session, bool) {
	id := string(ctx.Request.Header.Cookie(CookieName))
	if id == "" && create {
		id = session.NewID()
		setCookie(ctx, id)
	}
	var (
		s   *session.Session
		err error
	)
	if create {
		s, err = h.sessions.Get(id)
	} else {
		s, err = h.sessions.Lookup(id)
	}
	if err != nil {
		writeError(ctx, fasthttp.StatusNotFound, "Unknown session")
		return nil, false
	}
	return s, true
}

func (h *Handler) handleChatStream(ctx *fasthttp.RequestCtx) {
	s, ok := h.session(ctx, true)
	if !ok {
		return
	}
	v := h.sessions.OpenChat(context.Background(), s)
	ch, unsubscribe := v.Subscribe()
	h.stream(ctx, s, v, ch, unsubscribe)
}

func (h *Handler) handleResultStream(ctx *fasthttp.RequestCtx) {
	s, ok := h.session(ctx, true)
	if !ok {
		return
	}
	v := h.sessions.OpenResult(context.Background(), s)
	ch, unsubscribe := v.Subscribe()
	h.stream(ctx, s, v, ch, unsubscribe)
}

func (h *Handler) stream(ctx *fasthttp.RequestCtx, s *session.Session, v interface{ Close() }, ch <-chan runtime.Update, unsubscribe func()) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	heartbeat := h.heartbeat
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		defer h.sessions.Release(s, v)
		defer unsubscribe()

		err := writeStream(w, ch, ticker.C, func() { h.sessions.Touch(s) })
		if err != nil {
			h.logger.Debug("stream closed", zap.String("session", s.ID), zap.Error(err))
		}
	})
}

var errStreamEnded = errors.New("view closed")

// writeStream copies updates as Server-Sent Events until the channel closes
// or the client goes away.
func writeStream(w *bufio.Writer, ch <-chan runtime.Update, heartbeat <-chan time.Time, touch func()) error {
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return errStreamEnded
			}
			data, err := json.Marshal(u)
			if err != nil {
				return fmt.Errorf("encoding update: %w", err)
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", u.Seq, eventName(u), data); err != nil {
				return err
			}
		case <-heartbeat:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return err
			}
			touch()
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}

func eventName(u runtime.Update) string {
	switch {
	case u.Command != "":
		return u.Command
	case u.Patch == nil && u.View != nil:
		return "snapshot"
	default:
		return "patch"
	}
}

func (h *Handler) postChat(ctx *fasthttp.RequestCtx, event func() (model.Event, bool)) {
	s, ok := h.session(ctx, false)
	if !ok {
		return
	}
	v := s.Chat()
	if v == nil {
		writeError(ctx, fasthttp.StatusConflict, "No chat is open")
		return
	}
	ev, ok := event()
	if !ok {
		return
	}
	res, err := v.Post(ev)
	h.respond(ctx, res, err, ev.Kind == model.EventViewPlan)
}

func (h *Handler) postResult(ctx *fasthttp.RequestCtx, event func() (model.Event, bool)) {
	s, ok := h.session(ctx, false)
	if !ok {
		return
	}
	v := s.Result()
	if v == nil {
		writeError(ctx, fasthttp.StatusConflict, "No result page is open")
		return
	}
	ev, ok := event()
	if !ok {
		return
	}
	res, err := v.Post(ev)
	h.respond(ctx, res, err, false)
}

func (h *Handler) respond(ctx *fasthttp.RequestCtx, res engine.Result, err error, navigates bool) {
	if err != nil {
		writeError(ctx, fasthttp.StatusConflict, err.Error())
		return
	}
	resp := model.AcceptedResponse{Accepted: res.Applied}
	if res.Applied && navigates {
		resp.Next = transitions.ResultPath
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (h *Handler) handleWindow(ctx *fasthttp.RequestCtx) {
	s, ok := h.session(ctx, false)
	if !ok {
		return
	}
	var req model.WindowRequest
	if !decode(ctx, &req) {
		return
	}
	v := s.Result()
	if v == nil {
		writeError(ctx, fasthttp.StatusConflict, "No result page is open")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, model.AcceptedResponse{Accepted: v.ReportWindow(req.Open)})
}

// handleCheckout serves clients that cannot follow the stream commands.
func (h *Handler) handleCheckout(ctx *fasthttp.RequestCtx) {
	s, ok := h.session(ctx, true)
	if !ok {
		return
	}
	position := string(ctx.QueryArgs().Peek("position"))
	if position == "" {
		position = transitions.PositionResultBuy
	}
	if h.tracker != nil {
		h.tracker.Track(ctx, model.TrackEvent{
			Name:    model.TrackCTAClicked,
			Session: s.ID,
			Props:   map[string]string{"position": position},
			At:      h.sessions.Clock().Now().UTC(),
		})
	}
	ctx.Redirect(s.Attribution.CheckoutURL(ctx, h.checkoutURL), fasthttp.StatusFound)
}

func (h *Handler) handleState(ctx *fasthttp.RequestCtx) {
	s, ok := h.session(ctx, true)
	if !ok {
		return
	}
	st := s.State.State(ctx)
	writeJSON(ctx, fasthttp.StatusOK, model.StateResponse{State: st, SpotsLeft: st.SpotsLeft})
}

func (h *Handler) handleReset(ctx *fasthttp.RequestCtx) {
	s, ok := h.session(ctx, false)
	if !ok {
		return
	}
	if err := h.sessions.Reset(ctx, s); err != nil {
		h.logger.Warn("reset session", zap.String("session", s.ID), zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, "Could not reset session")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, model.AcceptedResponse{Accepted: true})
}

func setCookie(ctx *fasthttp.RequestCtx, id string) {
	c := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(c)
	c.SetKey(CookieName)
	c.SetValue(id)
	c.SetPath("/")
	c.SetHTTPOnly(true)
	c.SetSameSite(fasthttp.CookieSameSiteLaxMode)
	c.SetMaxAge(cookieMaxAge)
	ctx.Response.Header.SetCookie(c)
}

func decode(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.Error("Internal error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}

func writeError(ctx *fasthttp.RequestCtx, status int, message string) {
	writeJSON(ctx, status, model.ErrorResponse{
		Status:  status,
		Message: message,
	})
}
