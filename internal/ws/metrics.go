package ws

import (
	"context"

	"music-stream/backend/internal/presence"
	"music-stream/backend/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "music-stream/backend/internal/ws"

type gatewayMetrics struct {
	connections   metric.Int64UpDownCounter
	events        metric.Int64Counter
	persisted     metric.Int64Counter
	persistErrors metric.Int64Counter
}

func newGatewayMetrics(meter metric.Meter, registry *presence.Registry, log *logger.Logger) *gatewayMetrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	m, err := buildGatewayMetrics(meter, registry)
	if err != nil {
		log.LogError(err, "gateway metrics disabled")
		m, _ = buildGatewayMetrics(noop.NewMeterProvider().Meter(meterName), registry)
	}
	return m
}

func buildGatewayMetrics(meter metric.Meter, registry *presence.Registry) (*gatewayMetrics, error) {
	connections, err := meter.Int64UpDownCounter("ws_connections_active",
		metric.WithDescription("Open websocket connections"))
	if err != nil {
		return nil, err
	}
	events, err := meter.Int64Counter("ws_events_total",
		metric.WithDescription("Inbound realtime events by type"))
	if err != nil {
		return nil, err
	}
	persisted, err := meter.Int64Counter("chat_messages_persisted_total",
		metric.WithDescription("Direct messages stored"))
	if err != nil {
		return nil, err
	}
	persistErrors, err := meter.Int64Counter("chat_message_errors_total",
		metric.WithDescription("Direct messages that could not be stored"))
	if err != nil {
		return nil, err
	}
	_, err = meter.Int64ObservableGauge("presence_online_users",
		metric.WithDescription("Users currently registered as online"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(registry.Len()))
			return nil
		}))
	if err != nil {
		return nil, err
	}

	return &gatewayMetrics{
		connections:   connections,
		events:        events,
		persisted:     persisted,
		persistErrors: persistErrors,
	}, nil
}

func (m *gatewayMetrics) connectionOpened() {
	m.connections.Add(context.Background(), 1)
}

func (m *gatewayMetrics) connectionClosed() {
	m.connections.Add(context.Background(), -1)
}

func (m *gatewayMetrics) event(eventType string) {
	m.events.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", eventType)))
}

func (m *gatewayMetrics) messagePersisted() {
	m.persisted.Add(context.Background(), 1)
}

func (m *gatewayMetrics) messageFailed() {
	m.persistErrors.Add(context.Background(), 1)
}
