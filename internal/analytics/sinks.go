package analytics

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"funnel-engine/internal/model"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, ev model.TrackEvent) error {
	fields := []zap.Field{
		zap.String("event", ev.Name),
		zap.String("session", ev.Session),
		zap.Time("at", ev.At),
	}
	for k, v := range ev.Props {
		fields = append(fields, zap.String(k, v))
	}
	s.logger.Info("track", fields...)
	return nil
}

// MetricsSink counts events in Prometheus.
type MetricsSink struct {
	Events  *prometheus.CounterVec
	Answers *prometheus.CounterVec
	CTAs    *prometheus.CounterVec
}

func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	s := &MetricsSink{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnel",
			Name:      "events_total",
			Help:      "Funnel analytics events by name.",
		}, []string{"event"}),
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnel",
			Name:      "answers_total",
			Help:      "Answers by question and option.",
		}, []string{"question", "option"}),
		CTAs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnel",
			Name:      "cta_clicks_total",
			Help:      "Call-to-action clicks by position.",
		}, []string{"position"}),
	}
	for _, c := range []prometheus.Collector{s.Events, s.Answers, s.CTAs} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering funnel metrics: %w", err)
		}
	}
	return s, nil
}

func (s *MetricsSink) Name() string { return "metrics" }

func (s *MetricsSink) Send(_ context.Context, ev model.TrackEvent) error {
	s.Events.WithLabelValues(ev.Name).Inc()
	switch ev.Name {
	case model.TrackQuestionAnswered:
		s.Answers.WithLabelValues(ev.Props["questionId"], ev.Props["option"]).Inc()
	case model.TrackCTAClicked:
		s.CTAs.WithLabelValues(ev.Props["position"]).Inc()
	}
	return nil
}

// CollectorSink posts events as JSON to an HTTP collector.
type CollectorSink struct {
	url     string
	client  *fasthttp.Client
	timeout time.Duration
}

func NewCollectorSink(url string, client *fasthttp.Client) *CollectorSink {
	if client == nil {
		client = &fasthttp.Client{
			ReadTimeout:         2 * time.Second,
			WriteTimeout:        2 * time.Second,
			MaxIdleConnDuration: 90 * time.Second,
			MaxConnsPerHost:     100,
		}
	}
	return &CollectorSink{url: url, client: client, timeout: 2 * time.Second}
}

func (s *CollectorSink) Name() string { return "collector" }

func (s *CollectorSink) Send(ctx context.Context, ev model.TrackEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBodyRaw(body)

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if err := s.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("collector returned status %d", code)
	}
	return nil
}

// publisher is the part of *amqp.Channel the AMQP sink uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events to a topic exchange, routed by event name.
type AMQPSink struct {
	conn     *amqp.Connection
	ch       publisher
	exchange string
}

func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange}, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Send(ctx context.Context, ev model.TrackEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return s.ch.PublishWithContext(ctx, s.exchange, RoutingKey(ev.Name), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		Body:         body,
	})
}

func (s *AMQPSink) Close() error {
	if err := s.ch.Close(); err != nil {
		return err
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// RoutingKey maps an event name to its topic.
func RoutingKey(event string) string {
	return "funnel." + event
}
