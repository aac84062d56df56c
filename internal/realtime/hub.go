package realtime

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"example.com/taskboard/internal/domain"
	"example.com/taskboard/internal/storage"
	"example.com/taskboard/internal/usecase"
)

// Hub owns the registry of open realtime connections and fans mutation
// events out to all of them. Connect and disconnect mutate the registry;
// broadcast only reads it.
type Hub struct {
	svc      *usecase.TaskService
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(svc *usecase.TaskService, origin string, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origin),
		},
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the connection, registers it, and pushes the full task
// list to the new client before any broadcast can reach it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("realtime: upgrade failed: %v", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan Envelope, sendQueueSize),
		done: make(chan struct{}),
	}

	// Catch-up push. A late client learns mutations it missed only here.
	// Fetching the list and registering under the write lock keeps
	// broadcasts out until the list frame is queued, so the first frame a
	// client receives is always tasks:list and every later mutation reaches
	// it as a broadcast.
	h.mu.Lock()
	tasks, listErr := h.svc.ListAll()
	if listErr == nil {
		if tasks == nil {
			tasks = []domain.Task{}
		}
		c.enqueue(mustEnvelope(EventTasksList, taskListData{Tasks: tasks}))
	}
	h.clients[c.id] = c
	h.mu.Unlock()
	if listErr != nil {
		h.logger.Printf("realtime: initial task list for %s: %v", c.id, listErr)
	}
	h.logger.Printf("realtime: client connected: %s", c.id)

	go c.writePump()
	go c.readPump()
}

// Create persists a new task and, on success, announces it to every
// connected client. The returned Ack is the caller's private outcome;
// failures are never broadcast.
func (h *Hub) Create(title string) Ack {
	task, err := h.svc.Create(title)
	if err != nil {
		return failAck(err)
	}
	h.TaskCreated(task)
	return Ack{Success: true, Task: &task}
}

func (h *Hub) Update(id string, upd usecase.TaskUpdate) Ack {
	task, err := h.svc.Update(id, upd)
	if err != nil {
		return failAck(err)
	}
	h.TaskUpdated(task)
	return Ack{Success: true, Task: &task}
}

// Delete removes the task and broadcasts only its id. The ack carries bare
// success, matching the deleted event.
func (h *Hub) Delete(id string) Ack {
	if _, err := h.svc.Delete(id); err != nil {
		return failAck(err)
	}
	h.TaskDeleted(id)
	return Ack{Success: true}
}

// TaskCreated, TaskUpdated and TaskDeleted announce an already-committed
// mutation to every connected client. The HTTP gateway calls them too, so
// both write paths produce the same broadcasts.
func (h *Hub) TaskCreated(task domain.Task) {
	h.broadcast(mustEnvelope(EventTaskCreated, taskData{Task: task}))
}

func (h *Hub) TaskUpdated(task domain.Task) {
	h.broadcast(mustEnvelope(EventTaskUpdated, taskData{Task: task}))
}

func (h *Hub) TaskDeleted(id string) {
	h.broadcast(mustEnvelope(EventTaskDeleted, taskIDData{ID: id}))
}

func (h *Hub) broadcast(env Envelope) {
	h.mu.RLock()
	var stuck []*client
	for _, c := range h.clients {
		if !c.enqueue(env) {
			stuck = append(stuck, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range stuck {
		h.logger.Printf("realtime: dropping slow client: %s", c.id)
		h.remove(c)
	}
}

// dispatch routes one inbound envelope. The bool reports whether the sender
// asked to be acknowledged.
func (h *Hub) dispatch(env Envelope) (Ack, bool) {
	wantAck := env.Seq != 0
	switch env.Event {
	case EventTaskCreate:
		var p createPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return failAck(err), wantAck
		}
		return h.Create(p.Title), wantAck
	case EventTaskUpdate:
		var p updatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return failAck(err), wantAck
		}
		return h.Update(p.ID, usecase.TaskUpdate{Title: p.Title, Completed: p.Completed}), wantAck
	case EventTaskDelete:
		var p deletePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return failAck(err), wantAck
		}
		return h.Delete(p.ID), wantAck
	default:
		return Ack{Success: false, Error: "unknown event: " + env.Event}, wantAck
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	if ok {
		c.shutdown()
		h.logger.Printf("realtime: client disconnected: %s", c.id)
	}
}

// ClientCount reports how many connections are currently registered.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// failAck forwards the error text as-is; the realtime channel does not
// sanitize store errors the way the HTTP gateway does.
func failAck(err error) Ack {
	if errors.Is(err, storage.ErrNotFound) {
		return Ack{Success: false, Error: "Task not found"}
	}
	return Ack{Success: false, Error: err.Error()}
}

func originChecker(origin string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		got := r.Header.Get("Origin")
		// Non-browser clients send no Origin header.
		return got == "" || origin == "*" || got == origin
	}
}
