package guardian

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	domain "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
	"github.com/pintubhai440/secure-recoder/internal/logger"
)

// clientBuffer is the per-client event backlog. A client that falls further
// behind than this loses events instead of blocking the orchestrator.
const clientBuffer = 16

// streamClient is one connected SSE subscriber. Its ResponseWriter is only
// ever touched by the HandleSSE goroutine that owns it; publishers hand
// frames over through the events channel.
type streamClient struct {
	id     string
	events chan []byte
	done   chan struct{}
}

// EventStream fans event log entries out to connected SSE clients. Publish
// is safe to call from concurrent appenders: it only performs non-blocking
// channel sends, never writes to a connection itself.
type EventStream struct {
	// mu protects clients.
	mu sync.RWMutex
	// clients maps client id to connection.
	clients map[string]*streamClient
}

// NewEventStream creates an empty stream.
func NewEventStream() *EventStream {
	return &EventStream{
		clients: make(map[string]*streamClient),
	}
}

// Publish broadcasts one event to every connected client. Slow clients drop
// the frame rather than stall the publisher.
func (s *EventStream) Publish(event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	message := fmt.Appendf(nil, "data: %s\n\n", payload)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.clients {
		select {
		case <-client.done:
		case client.events <- message:
		default:
			// Backlog full; the client keeps its connection but misses
			// this frame.
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (s *EventStream) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.clients)
}

// HandleSSE upgrades the request to an event stream and blocks until the
// client disconnects. All connection writes happen on this goroutine.
func (s *EventStream) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &streamClient{
		id:     uuid.NewString(),
		events: make(chan []byte, clientBuffer),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[client.id] = client
	total := len(s.clients)
	s.mu.Unlock()

	logger.DebugKV(r.Context(), "Event stream client connected", "client_id", client.id, "total", total)

	defer s.remove(client)

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"client_id\":%q}\n\n", client.id)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case message := <-client.events:
			if _, err := w.Write(message); err != nil {
				logger.DebugKV(r.Context(), "Event stream write failed", "client_id", client.id, "error", err)
				return
			}

			flusher.Flush()
		}
	}
}

// remove detaches a client after its handler returns. Closing done stops
// publishers from queueing further frames for it.
func (s *EventStream) remove(client *streamClient) {
	s.mu.Lock()
	delete(s.clients, client.id)
	total := len(s.clients)
	s.mu.Unlock()

	close(client.done)

	logger.DebugKV(nil, "Event stream client disconnected", "client_id", client.id, "total", total) //nolint:staticcheck // nil context falls back to the global logger.
}
