// Package notify publishes daemon notifications to clients over MQTT and probes client liveness.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/vcd/internal/command"
	"github.com/rbright/vcd/internal/fsm"
	"github.com/rbright/vcd/internal/vcerr"
)

// Config configures a Hub.
type Config struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string

	// PublishTimeout bounds each publish. Zero means one second.
	PublishTimeout time.Duration
	// HelloTimeout bounds the wait for a hello reply. Zero means 500ms.
	HelloTimeout time.Duration
}

// Transport is the message bus the hub publishes on.
type Transport interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Close()
}

// StatePayload is published (retained) whenever the session state changes.
type StatePayload struct {
	State string `json:"state"`
}

// TooltipPayload asks a widget to show or hide its tooltip.
type TooltipPayload struct {
	Show bool `json:"show"`
}

// ErrorPayload reports an asynchronous failure to a client.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SpeechPayload tells the manager that the engine heard speech.
type SpeechPayload struct {
	At time.Time `json:"at"`
}

// HelloRequest is the liveness probe sent to one client.
type HelloRequest struct {
	RequestID string `json:"request_id"`
	PID       int    `json:"pid"`
}

// HelloReply is a client's answer to HelloRequest.
type HelloReply struct {
	RequestID string `json:"request_id"`
	PID       int    `json:"pid"`
	Code      int    `json:"code"`
}

// Hub implements the daemon's outbound notifications.
type Hub struct {
	cfg       Config
	transport Transport
	logger    *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]chan HelloReply
}

// NewHub wraps transport. Call Start before probing clients.
func NewHub(cfg Config, transport Transport, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "vcd"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = time.Second
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 500 * time.Millisecond
	}
	return &Hub{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		pending:   make(map[string]chan HelloReply),
	}
}

// Start subscribes to hello replies.
func (h *Hub) Start() error {
	if err := h.transport.Subscribe(TopicHelloReplies(h.cfg.TopicPrefix), h.handleHelloReply); err != nil {
		return fmt.Errorf("subscribe hello replies: %w", err)
	}
	return nil
}

// Close releases the transport.
func (h *Hub) Close() {
	h.transport.Close()
}

func (h *Hub) SendStateChanged(state fsm.State) error {
	return h.publish(TopicState(h.cfg.TopicPrefix), true, StatePayload{State: string(state)})
}

func (h *Hub) SendResult(pid int, result command.Result) error {
	return h.publish(TopicResult(h.cfg.TopicPrefix, pid), false, result)
}

func (h *Hub) SendResultToManager(pid int, result command.Result) error {
	return h.publish(TopicManagerResult(h.cfg.TopicPrefix, pid), false, result)
}

func (h *Hub) SendSpeechDetected(managerPID int) error {
	return h.publish(TopicSpeechDetected(h.cfg.TopicPrefix, managerPID), false, SpeechPayload{At: time.Now().UTC()})
}

func (h *Hub) SendShowTooltip(widgetPID int, show bool) error {
	return h.publish(TopicTooltip(h.cfg.TopicPrefix, widgetPID), false, TooltipPayload{Show: show})
}

func (h *Hub) SendError(pid int, code int, message string) error {
	return h.publish(TopicError(h.cfg.TopicPrefix, pid), false, ErrorPayload{Code: code, Message: message})
}

// Hello probes pid and reports whether it answered within the hello timeout.
// A missing reply means the client is gone and is not an error.
func (h *Hub) Hello(ctx context.Context, pid int) (bool, error) {
	requestID := uuid.NewString()
	replyCh := make(chan HelloReply, 1)
	h.pendingMu.Lock()
	h.pending[requestID] = replyCh
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, requestID)
		h.pendingMu.Unlock()
	}()

	if err := h.publish(TopicHello(h.cfg.TopicPrefix, pid, requestID), false, HelloRequest{RequestID: requestID, PID: pid}); err != nil {
		return false, err
	}

	timer := time.NewTimer(h.cfg.HelloTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		h.logger.Debug("hello unanswered", "pid", pid, "request_id", requestID)
		return false, nil
	case reply := <-replyCh:
		return reply.Code == vcerr.CodeNone, nil
	}
}

func (h *Hub) handleHelloReply(topic string, payload []byte) {
	pid, err := ParsePID(topic, h.cfg.TopicPrefix)
	if err != nil {
		h.logger.Warn("skip invalid hello reply topic", "topic", topic, "error", err.Error())
		return
	}

	var reply HelloReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		h.logger.Warn("invalid hello reply", "topic", topic, "error", err.Error())
		return
	}
	if reply.RequestID == "" {
		reply.RequestID = ParseRequestID(topic)
	}
	if reply.PID == 0 {
		reply.PID = pid
	}
	if reply.PID != pid {
		h.logger.Warn("hello reply pid mismatch", "topic_pid", pid, "payload_pid", reply.PID)
		return
	}

	h.pendingMu.Lock()
	ch, ok := h.pending[reply.RequestID]
	h.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- reply:
	default:
	}
}

func (h *Hub) publish(topic string, retained bool, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	if err := h.transport.Publish(topic, retained, body); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
