package rest

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/events"
)

// StreamPublisher is the subscription surface of the event publisher.
type StreamPublisher interface {
	Subscribe(filter events.SubscriptionFilter) (*events.Subscription, error)
	Unsubscribe(subscriptionID string) error
}

// StreamConfig tunes the WebSocket alert stream.
type StreamConfig struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingPeriod      time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultStreamConfig returns the production stream settings. PingPeriod
// must stay under PongTimeout or healthy connections drop.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingPeriod:      54 * time.Second,
		MaxMessageSize:  4 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// AlertStreamHandler upgrades clients to WebSocket and streams alert
// lifecycle envelopes at them. Filtering happens at the publisher, so a
// slow dashboard only ever drops its own events.
type AlertStreamHandler struct {
	publisher StreamPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
	config    StreamConfig
	upgrader  websocket.Upgrader
}

// NewAlertStreamHandler creates the stream endpoint handler.
func NewAlertStreamHandler(publisher StreamPublisher, logger *slog.Logger, config StreamConfig) *AlertStreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertStreamHandler{
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("api.rest.stream"),
		config:    config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
	}
}

// streamMessage is the wire frame pushed to stream clients.
type streamMessage struct {
	Type      string           `json:"type"`
	Envelope  *events.Envelope `json:"envelope,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ServeHTTP handles GET /ws/v1/alerts. Query parameters narrow the stream:
// patient_id (UUID), min_severity (low..emergency), kinds (alert,analysis).
func (h *AlertStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "stream.connect")
	defer span.End()

	filter, err := streamFilterFromQuery(r)
	if err != nil {
		writeMiddlewareError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error
		h.logger.WarnContext(ctx, "websocket upgrade failed", "error", err)
		return
	}

	sub, err := h.publisher.Subscribe(filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "stream subscribe failed", "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "publisher unavailable"),
			time.Now().Add(h.config.WriteTimeout))
		conn.Close()
		return
	}

	span.SetAttributes(attribute.String("subscription_id", sub.ID))
	h.logger.InfoContext(ctx, "stream client connected",
		"subscription_id", sub.ID,
		"remote_addr", clientIP(r),
	)

	conn.SetReadLimit(h.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	done := make(chan struct{})
	go h.readPump(conn, done)
	go h.writePump(conn, sub, done)
}

// readPump discards client frames and unblocks the writer when the peer
// goes away. The stream is one-directional; clients only send control
// frames.
func (h *AlertStreamHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("stream read error", "error", err)
			}
			return
		}
	}
}

// writePump forwards subscription envelopes and keeps the connection alive
// with pings.
func (h *AlertStreamHandler) writePump(conn *websocket.Conn, sub *events.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(h.config.PingPeriod)
	defer func() {
		ticker.Stop()
		h.publisher.Unsubscribe(sub.ID)
		conn.Close()
	}()

	welcome := streamMessage{
		Type:      "connected",
		Message:   sub.ID,
		Timestamp: time.Now().UTC(),
	}
	conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	if err := conn.WriteJSON(welcome); err != nil {
		return
	}

	for {
		select {
		case env, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "publisher closed"))
				return
			}
			msg := streamMessage{
				Type:      "event",
				Envelope:  &env,
				Timestamp: time.Now().UTC(),
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// streamFilterFromQuery builds the subscription filter from query
// parameters.
func streamFilterFromQuery(r *http.Request) (events.SubscriptionFilter, error) {
	var filter events.SubscriptionFilter
	query := r.URL.Query()

	if raw := query.Get("patient_id"); raw != "" {
		patientID, err := uuid.Parse(raw)
		if err != nil {
			return filter, &ValidationError{
				Message: "patient_id must be a valid UUID",
			}
		}
		filter.PatientID = &patientID
	}

	if raw := query.Get("min_severity"); raw != "" {
		severity, err := rule.ParseSeverity(raw)
		if err != nil {
			return filter, &ValidationError{
				Message: "min_severity must be one of: low, medium, high, critical, emergency",
			}
		}
		filter.MinSeverity = &severity
	}

	kinds := []events.EventKind{events.KindAlert}
	if raw := query.Get("kinds"); raw != "" {
		kinds = kinds[:0]
		for _, part := range strings.Split(raw, ",") {
			switch events.EventKind(strings.TrimSpace(part)) {
			case events.KindAlert:
				kinds = append(kinds, events.KindAlert)
			case events.KindAnalysis:
				kinds = append(kinds, events.KindAnalysis)
			default:
				return filter, &ValidationError{
					Message: "kinds must list alert and/or analysis",
				}
			}
		}
	}
	filter.Kinds = kinds

	return filter, nil
}
