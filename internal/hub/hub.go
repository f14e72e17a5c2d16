package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"leon/internal/domain"
)

const invokeTimeout = 20 * time.Second

type Config struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// UtteranceHandler receives utterances published by client terminals.
type UtteranceHandler interface {
	HandleUtterance(ctx context.Context, sessionID, text string)
}

// Hub is the realtime edge of the core: it streams typing indicators,
// suggestions and answers to the end user, accepts inbound utterances, and
// carries the request/reply exchange with the skill runtime.
type Hub struct {
	cfg    Config
	client paho.Client
	logger *slog.Logger

	handlerMu sync.RWMutex
	handler   UtteranceHandler

	pendingMu sync.Mutex
	pending   map[string]chan domain.InvokeResult
}

func New(cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]chan domain.InvokeResult),
	}
}

// SetHandler installs the dispatcher-side consumer of inbound utterances.
func (h *Hub) SetHandler(handler UtteranceHandler) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	h.handler = handler
}

func (h *Hub) Start(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(h.cfg.BrokerURL).
		SetClientID(h.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if h.cfg.Username != "" {
		opts.SetUsername(h.cfg.Username)
		opts.SetPassword(h.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		h.logger.Error("mqtt connection lost", "error", err)
	})

	h.client = paho.NewClient(opts)
	if token := h.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	if token := h.client.Subscribe(TopicSessionUtterances(h.cfg.TopicPrefix), 1, h.handleUtterance); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if token := h.client.Subscribe(TopicSkillResults(h.cfg.TopicPrefix), 1, h.handleInvokeResult); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	go func() {
		<-ctx.Done()
		h.client.Disconnect(100)
	}()

	return nil
}

func (h *Hub) handleUtterance(_ paho.Client, msg paho.Message) {
	sessionID := parseSessionID(msg.Topic(), h.cfg.TopicPrefix)
	if sessionID == "" {
		h.logger.Warn("skip invalid utterance topic", "topic", msg.Topic())
		return
	}

	var event domain.UtteranceEvent
	if err := json.Unmarshal(msg.Payload(), &event); err != nil {
		// backward compatible: payload can be the bare utterance text
		event = domain.UtteranceEvent{Text: strings.TrimSpace(string(msg.Payload()))}
	}
	if event.Text == "" {
		return
	}

	h.handlerMu.RLock()
	handler := h.handler
	h.handlerMu.RUnlock()
	if handler == nil {
		h.logger.Warn("utterance dropped, no handler installed", "session_id", sessionID)
		return
	}
	go handler.HandleUtterance(context.Background(), sessionID, event.Text)
}

func (h *Hub) handleInvokeResult(_ paho.Client, msg paho.Message) {
	requestID := parseRequestID(msg.Topic())
	if requestID == "" {
		return
	}

	var result domain.InvokeResult
	if err := json.Unmarshal(msg.Payload(), &result); err != nil {
		h.logger.Warn("invalid invoke result", "topic", msg.Topic(), "error", err)
		return
	}
	if result.RequestID == "" {
		result.RequestID = requestID
	}

	h.pendingMu.Lock()
	ch, ok := h.pending[result.RequestID]
	h.pendingMu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- result:
	default:
	}
}

// InvokeAction publishes an action invocation to the skill runtime and waits
// for the correlated result.
func (h *Hub) InvokeAction(ctx context.Context, req domain.InvokeRequest) (domain.InvokeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.InvokeResult{}, err
	}

	resultCh := make(chan domain.InvokeResult, 1)
	h.pendingMu.Lock()
	h.pending[req.RequestID] = resultCh
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, req.RequestID)
		h.pendingMu.Unlock()
	}()

	topic := TopicInvoke(h.cfg.TopicPrefix, req.RequestID)
	if token := h.client.Publish(topic, 1, false, body); token.Wait() && token.Error() != nil {
		return domain.InvokeResult{}, token.Error()
	}

	select {
	case <-ctx.Done():
		return domain.InvokeResult{}, ctx.Err()
	case result := <-resultCh:
		if !result.OK {
			if result.Error == "" {
				result.Error = "action invocation failed"
			}
			return result, fmt.Errorf("%s", result.Error)
		}
		return result, nil
	case <-time.After(invokeTimeout):
		return domain.InvokeResult{}, fmt.Errorf("action invocation timeout")
	}
}

// PublishTyping streams the typing indicator state to the end user.
func (h *Hub) PublishTyping(_ context.Context, sessionID string, typing bool) error {
	payload, _ := json.Marshal(map[string]bool{"is_typing": typing})
	return h.publish(TopicTyping(h.cfg.TopicPrefix, sessionID), payload)
}

func (h *Hub) PublishSuggest(_ context.Context, sessionID string, suggestions []string) error {
	payload, err := json.Marshal(suggestions)
	if err != nil {
		return err
	}
	return h.publish(TopicSuggest(h.cfg.TopicPrefix, sessionID), payload)
}

func (h *Hub) PublishAnswer(_ context.Context, sessionID, text string) error {
	payload, err := json.Marshal(domain.AnswerEvent{SessionID: sessionID, Text: text})
	if err != nil {
		return err
	}
	return h.publish(TopicAnswer(h.cfg.TopicPrefix, sessionID), payload)
}

func (h *Hub) publish(topic string, payload []byte) error {
	if token := h.client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// parseSessionID extracts the session segment of "{prefix}/session/{id}/...".
func parseSessionID(topic, prefix string) string {
	rest := strings.TrimPrefix(topic, prefix+"/session/")
	if rest == topic {
		return ""
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[0]
}

// parseRequestID extracts the trailing segment of a skill result topic.
func parseRequestID(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
