package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/internal/transcribe"
	"github.com/MrWong99/earshot/internal/transcribe/vocab"
)

// Event types sent on the /v1/events stream.
const (
	EventUpdate     = "update"
	EventTranscript = "transcript"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// Event is one message on the live stream.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`

	// Kind and Message are set for update events.
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`

	// Recording is set on the final update of a session.
	Recording *Summary `json:"recording,omitempty"`

	// Transcript, Language and Provider are set for transcript events.
	Transcript string `json:"transcript,omitempty"`
	Language   string `json:"language,omitempty"`
	Provider   string `json:"provider,omitempty"`

	Corrections []vocab.Correction `json:"corrections,omitempty"`

	Error string `json:"error,omitempty"`
}

// Hub fans recorder updates and transcription results out to websocket
// clients. A client that cannot keep up is disconnected rather than slowing
// the others down.
type Hub struct {
	origins []string

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	msgs      chan []byte
	closeSlow func()
	dropOnce  sync.Once
}

// drop disconnects the client once, however many events overflow its buffer.
func (c *client) drop() {
	c.dropOnce.Do(func() { go c.closeSlow() })
}

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithOriginPatterns allows cross-origin websocket connections from hosts
// matching the given patterns.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = append(h.origins, patterns...) }
}

// NewHub returns an empty [Hub].
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{clients: make(map[*client]struct{})}
	for _, o := range opts {
		o(h)
	}
	return h
}

var _ recorder.Listener = (*Hub)(nil)

// OnUpdate implements [recorder.Listener].
func (h *Hub) OnUpdate(u recorder.Update) {
	e := Event{
		Type:      EventUpdate,
		SessionID: u.SessionID,
		Time:      u.Time,
		Kind:      u.Kind.String(),
		Message:   u.Message,
	}
	if u.Recording != nil {
		s := Summarize(u.Recording)
		e.Recording = &s
	}
	h.Publish(e)
}

// OnResult publishes a transcription outcome. Skipped recordings are not
// published.
func (h *Hub) OnResult(r transcribe.Result) {
	if r.Recording == nil || errors.Is(r.Err, transcribe.ErrSkipped) || errors.Is(r.Err, transcribe.ErrDisabled) {
		return
	}
	e := Event{
		Type:       EventTranscript,
		SessionID:  r.Recording.ID,
		Time:       time.Now(),
		Transcript: r.Transcript.Text,
		Language:   r.Transcript.Language,
		Provider:   r.Provider,

		Corrections: r.Corrections,
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	h.Publish(e)
}

// Publish sends e to every connected client.
func (h *Hub) Publish(e Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		slog.Error("control: marshal event", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.msgs <- msg:
		default:
			c.drop()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("control: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles pings and the close handshake.
	ctx := conn.CloseRead(r.Context())

	c := &client{
		msgs: make(chan []byte, clientBuffer),
		closeSlow: func() {
			conn.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with events")
		},
	}
	h.add(c)
	defer h.remove(c)

	slog.Debug("control: events client connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.msgs:
			if err := writeWithTimeout(ctx, conn, msg); err != nil {
				slog.Debug("control: events client gone", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func writeWithTimeout(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
