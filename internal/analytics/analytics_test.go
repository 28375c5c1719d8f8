package analytics

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"funnel-engine/internal/model"
)

type memSink struct {
	mu     sync.Mutex
	events []model.TrackEvent
	block  chan struct{}
	err    error
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) Send(_ context.Context, ev model.TrackEvent) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *memSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		out = append(out, ev.Name)
	}
	return out
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	a, b := &memSink{}, &memSink{err: errors.New("down")}
	d := NewDispatcher([]Sink{b, a})

	for _, name := range []string{model.TrackPageView, model.TrackFunnelStarted, model.TrackQuestionShown} {
		d.Track(context.Background(), model.TrackEvent{Name: name})
	}
	d.Close()

	want := []string{model.TrackPageView, model.TrackFunnelStarted, model.TrackQuestionShown}
	assert.Equal(t, want, a.names())
	assert.Equal(t, want, b.names())
}

func TestDispatcherNeverBlocks(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := &memSink{block: make(chan struct{})}
	d := NewDispatcher([]Sink{s}, WithBuffer(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 10 {
			d.Track(context.Background(), model.TrackEvent{Name: model.TrackPageView})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Track blocked on a stuck sink")
	}
	assert.Positive(t, d.Dropped())

	close(s.block)
	d.Close()
	d.Close()

	d.Track(context.Background(), model.TrackEvent{Name: "late"})
	assert.NotContains(t, s.names(), "late")
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewLogSink(zap.New(core))
	require.NoError(t, s.Send(context.Background(), model.TrackEvent{
		Name:  model.TrackCTAClicked,
		Props: map[string]string{"position": "result_buy"},
	}))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "track", entry.Message)
	assert.Equal(t, "result_buy", entry.ContextMap()["position"])
}

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewMetricsSink(reg)
	require.NoError(t, err)

	ctx := context.Background()
	s.Send(ctx, model.TrackEvent{Name: model.TrackQuestionAnswered, Props: map[string]string{"questionId": "1", "option": "MUJER"}})
	s.Send(ctx, model.TrackEvent{Name: model.TrackQuestionAnswered, Props: map[string]string{"questionId": "1", "option": "MUJER"}})
	s.Send(ctx, model.TrackEvent{Name: model.TrackCTAClicked, Props: map[string]string{"position": "sticky"}})

	assert.Equal(t, 2.0, testutil.ToFloat64(s.Events.WithLabelValues(model.TrackQuestionAnswered)))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.Answers.WithLabelValues("1", "MUJER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.CTAs.WithLabelValues("sticky")))

	_, err = NewMetricsSink(reg)
	assert.Error(t, err, "registering twice must fail")
}

func serveCollector(t *testing.T, status int) (*fasthttp.Client, chan model.TrackEvent) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	got := make(chan model.TrackEvent, 1)
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		var ev model.TrackEvent
		if err := json.Unmarshal(ctx.PostBody(), &ev); err == nil {
			got <- ev
		}
		ctx.SetStatusCode(status)
	}}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown()
		ln.Close()
	})
	client := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	t.Cleanup(client.CloseIdleConnections)
	return client, got
}

func TestCollectorSink(t *testing.T) {
	client, got := serveCollector(t, fasthttp.StatusAccepted)
	s := NewCollectorSink("http://collector/events", client)

	err := s.Send(context.Background(), model.TrackEvent{Name: model.TrackPageView, Session: "sess"})
	require.NoError(t, err)
	ev := <-got
	assert.Equal(t, model.TrackPageView, ev.Name)
	assert.Equal(t, "sess", ev.Session)
}

func TestCollectorSinkStatus(t *testing.T) {
	client, _ := serveCollector(t, fasthttp.StatusServiceUnavailable)
	s := NewCollectorSink("http://collector/events", client)
	err := s.Send(context.Background(), model.TrackEvent{Name: model.TrackPageView})
	assert.ErrorContains(t, err, "503")
}

type fakeChannel struct {
	key string
	msg amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.key = key
	f.msg = msg
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestAMQPSinkRoutesByEvent(t *testing.T) {
	ch := &fakeChannel{}
	s := &AMQPSink{ch: ch, exchange: "funnel"}
	at := time.Unix(1700000000, 0).UTC()
	require.NoError(t, s.Send(context.Background(), model.TrackEvent{Name: model.TrackCountdownExpired, At: at}))

	assert.Equal(t, "funnel.countdown_expired", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, at, ch.msg.Timestamp)
	assert.JSONEq(t, `{"event":"countdown_expired","at":"2023-11-14T22:13:20Z"}`, string(ch.msg.Body))
	require.NoError(t, s.Close())
}
