package wavelet

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// realtimeEnvelope is the phoenix-style frame the realtime endpoint speaks.
type realtimeEnvelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

// insertEventPayload carries the inserted row on a postgres INSERT event.
type insertEventPayload struct {
	Record Message `json:"record"`
}

const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventHeartbeat = "heartbeat"
	eventInsert    = "INSERT"

	heartbeatTopic = "phoenix"
)

func insertTopic(roomID string) string {
	return "realtime:public:messages:room_id=eq." + roomID
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig tunes reconnect and heartbeat behavior.
type RealtimeConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient maintains one websocket to the realtime endpoint and fans
// inserted rows out to per-room subscribers. It joins one topic per room,
// sends heartbeats, and reconnects with exponential backoff, rejoining
// every live topic after a new dial.
type RealtimeClient struct {
	c      *Client
	config RealtimeConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	cancelFn         context.CancelFunc
	refCounter       int
	nextSubID        int
	subs             map[string]map[int]func(Message)
	recon            *reconnector
}

func newRealtimeClient(c *Client) *RealtimeClient {
	cfg := RealtimeConfig{AutoReconnect: true}
	cfg.defaults()
	return &RealtimeClient{
		c:      c,
		config: cfg,
		state:  StateDisconnected,
		subs:   make(map[string]map[int]func(Message)),
		recon:  newReconnector(&cfg),
	}
}

// Configure replaces the reconnect/heartbeat settings. Safe at any time;
// a live connection keeps its heartbeat cadence until the next dial.
func (r *RealtimeClient) Configure(cfg RealtimeConfig) {
	cfg.defaults()
	r.mu.Lock()
	r.config = cfg
	r.recon = newReconnector(&cfg)
	r.mu.Unlock()
}

// State returns the current connection state.
func (r *RealtimeClient) State() RealtimeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SubscribeInserts registers onInsert for new rows in one room, dialing the
// websocket on first use. Delivery is at-least-once: rows already seen in a
// snapshot may be delivered again, and ordering against concurrent queries
// is not guaranteed. Callers dedup by message ID.
func (r *RealtimeClient) SubscribeInserts(roomID string, onInsert func(Message)) (Subscription, error) {
	topic := insertTopic(roomID)

	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	handlers := r.subs[topic]
	newTopic := len(handlers) == 0
	if handlers == nil {
		handlers = make(map[int]func(Message))
		r.subs[topic] = handlers
	}
	handlers[id] = onInsert
	connected := r.state == StateConnected
	r.mu.Unlock()

	var err error
	switch {
	case !connected:
		err = r.Connect(context.Background()) // rejoins every topic, including this one
	case newTopic:
		err = r.join(context.Background(), topic)
	}
	if err != nil {
		r.removeHandler(topic, id)
		return nil, err
	}

	return &realtimeSubscription{client: r, topic: topic, id: id}, nil
}

// Connect dials the realtime websocket and joins all registered topics.
// Redundant calls while connected or connecting are no-ops.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateConnected || r.state == StateConnecting {
		r.mu.Unlock()
		return nil
	}
	r.state = StateConnecting
	r.intentionalClose = false
	r.mu.Unlock()

	wsURL := strings.Replace(r.c.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/realtime/v1/websocket?apikey=" + r.c.anonKey + "&vsn=1.0.0"

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		r.mu.Lock()
		r.state = StateDisconnected
		r.mu.Unlock()
		return fmt.Errorf("realtime dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.conn = conn
	r.state = StateConnected
	r.cancelFn = cancel
	recon := r.recon
	topics := make([]string, 0, len(r.subs))
	for t := range r.subs {
		topics = append(topics, t)
	}
	r.mu.Unlock()
	recon.markConnected()

	for _, t := range topics {
		if err := r.join(ctx, t); err != nil {
			cancel()
			conn.Close(websocket.StatusNormalClosure, "")
			r.mu.Lock()
			r.conn = nil
			r.state = StateDisconnected
			r.mu.Unlock()
			return err
		}
	}

	go r.readLoop(connCtx, conn)
	go r.heartbeatLoop(connCtx)

	return nil
}

// Disconnect closes the websocket without reconnecting. Subscriptions stay
// registered and come back on the next Connect.
func (r *RealtimeClient) Disconnect() error {
	r.mu.Lock()
	r.intentionalClose = true
	if r.cancelFn != nil {
		r.cancelFn()
		r.cancelFn = nil
	}
	conn := r.conn
	r.conn = nil
	r.state = StateDisconnected
	r.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

func (r *RealtimeClient) join(ctx context.Context, topic string) error {
	return r.send(ctx, &realtimeEnvelope{
		Topic:   topic,
		Event:   eventJoin,
		Payload: json.RawMessage(`{}`),
		Ref:     r.nextRef(),
	})
}

func (r *RealtimeClient) leave(topic string) {
	// Best-effort: teardown must not fail on a dead connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = r.send(ctx, &realtimeEnvelope{
		Topic:   topic,
		Event:   eventLeave,
		Payload: json.RawMessage(`{}`),
		Ref:     r.nextRef(),
	})
}

func (r *RealtimeClient) send(ctx context.Context, env *realtimeEnvelope) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("realtime: not connected")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (r *RealtimeClient) nextRef() string {
	r.mu.Lock()
	r.refCounter++
	ref := r.refCounter
	r.mu.Unlock()
	return strconv.Itoa(ref)
}

func (r *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			r.mu.Lock()
			intentional := r.intentionalClose
			auto := r.config.AutoReconnect
			recon := r.recon
			if r.conn == conn {
				r.conn = nil
				r.state = StateDisconnected
			}
			r.mu.Unlock()
			if intentional {
				return
			}
			if auto && recon.shouldReconnect() {
				r.scheduleReconnect()
			}
			return
		}

		var env realtimeEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		if env.Event != eventInsert {
			continue // phx_reply, presence, heartbeat acks
		}

		var payload insertEventPayload
		if json.Unmarshal(env.Payload, &payload) != nil {
			continue
		}
		r.dispatch(env.Topic, payload.Record)
	}
}

func (r *RealtimeClient) dispatch(topic string, msg Message) {
	r.mu.Lock()
	handlers := make([]func(Message), 0, len(r.subs[topic]))
	for _, h := range r.subs[topic] {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (r *RealtimeClient) heartbeatLoop(ctx context.Context) {
	r.mu.Lock()
	interval := r.config.HeartbeatInterval
	r.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := r.send(ctx, &realtimeEnvelope{
				Topic:   heartbeatTopic,
				Event:   eventHeartbeat,
				Payload: json.RawMessage(`{}`),
				Ref:     r.nextRef(),
			})
			if err != nil {
				return // readLoop notices the dead connection and reconnects
			}
		}
	}
}

func (r *RealtimeClient) scheduleReconnect() {
	r.mu.Lock()
	auto := r.config.AutoReconnect
	recon := r.recon
	r.state = StateReconnecting
	r.mu.Unlock()

	time.Sleep(recon.nextDelay())

	if err := r.Connect(context.Background()); err != nil {
		if auto && recon.shouldReconnect() {
			r.scheduleReconnect()
		} else {
			r.mu.Lock()
			r.state = StateDisconnected
			r.mu.Unlock()
		}
	}
}

func (r *RealtimeClient) removeHandler(topic string, id int) (topicEmpty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handlers := r.subs[topic]
	if handlers == nil {
		return false
	}
	delete(handlers, id)
	if len(handlers) == 0 {
		delete(r.subs, topic)
		return true
	}
	return false
}

// ============================================================================
// Subscription handle
// ============================================================================

type realtimeSubscription struct {
	client *RealtimeClient
	topic  string
	id     int
	once   sync.Once
}

// Unsubscribe stops delivery for this handle. Idempotent; safe during
// teardown even if no message was ever delivered.
func (s *realtimeSubscription) Unsubscribe() {
	s.once.Do(func() {
		if s.client.removeHandler(s.topic, s.id) && s.client.State() == StateConnected {
			s.client.leave(s.topic)
		}
	})
}
