package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// maxHistory is the number of messages kept per room
const maxHistory = 100

// Response is a generic JSON response structure
type Response struct {
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// ChatMessage is one posted message
type ChatMessage struct {
	User   string    `json:"user"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Chat is an in-memory set of chat rooms
type Chat struct {
	mu    sync.RWMutex
	rooms map[string][]ChatMessage
	now   func() time.Time
}

// NewChat creates an empty chat
func NewChat() *Chat {
	return &Chat{
		rooms: make(map[string][]ChatMessage),
		now:   time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	resp.Timestamp = time.Now().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Health returns a health check endpoint
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Message: "chat demo is healthy"})
}

// Post appends a message to a room. The author comes from the X-User header.
func (c *Chat) Post(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Text) == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "body must be {\"text\": \"...\"}"})
		return
	}

	msg := ChatMessage{
		User:   r.Header.Get("X-User"),
		Text:   body.Text,
		SentAt: c.now(),
	}

	c.mu.Lock()
	history := append(c.rooms[room], msg)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	c.rooms[room] = history
	c.mu.Unlock()

	writeJSON(w, http.StatusCreated, Response{Message: "sent", Data: msg})
}

// List returns the messages of a room, oldest first
func (c *Chat) List(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")

	c.mu.RLock()
	messages := append([]ChatMessage(nil), c.rooms[room]...)
	c.mu.RUnlock()

	writeJSON(w, http.StatusOK, Response{
		Message: "room " + room,
		Data:    messages,
	})
}

// CanPost answers 200 when the user could post right now. It is mounted
// behind a peeking limiter, so reaching it means there is capacity.
func (c *Chat) CanPost(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{
		Message: "you can post",
		Data:    map[string]string{"room": chi.URLParam(r, "room")},
	})
}
