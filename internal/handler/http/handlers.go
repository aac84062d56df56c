package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"example.com/taskboard/internal/domain"
	"example.com/taskboard/internal/storage"
	"example.com/taskboard/internal/usecase"
	"example.com/taskboard/pkg/response"
)

// Broadcaster announces committed mutations to realtime clients. The gateway
// calls it after every successful write so HTTP-origin changes reach live
// clients exactly like channel-origin ones; the original design only
// broadcast channel-origin mutations, which left HTTP writers invisible
// until the next reconnect.
type Broadcaster interface {
	TaskCreated(task domain.Task)
	TaskUpdated(task domain.Task)
	TaskDeleted(id string)
}

// NopBroadcaster satisfies Broadcaster when no realtime hub is wired.
type NopBroadcaster struct{}

func (NopBroadcaster) TaskCreated(domain.Task) {}
func (NopBroadcaster) TaskUpdated(domain.Task) {}
func (NopBroadcaster) TaskDeleted(string)      {}

type Handler struct {
	mux       *http.ServeMux
	svc       *usecase.TaskService
	broadcast Broadcaster
	ws        http.Handler
}

// New builds the gateway. ws, if non-nil, serves the realtime handshake at
// GET /ws.
func New(svc *usecase.TaskService, b Broadcaster, ws http.Handler) http.Handler {
	if b == nil {
		b = NopBroadcaster{}
	}
	h := &Handler{
		mux:       http.NewServeMux(),
		svc:       svc,
		broadcast: b,
		ws:        ws,
	}
	h.routes()
	return h
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /api/tasks", h.listTasks)
	h.mux.HandleFunc("GET /api/tasks/stats", h.stats)
	h.mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	h.mux.HandleFunc("POST /api/tasks", h.createTask)
	h.mux.HandleFunc("PUT /api/tasks/{id}", h.updateTask)
	h.mux.HandleFunc("DELETE /api/tasks/{id}", h.deleteTask)
	h.mux.HandleFunc("PATCH /api/tasks/{id}/toggle", h.toggleTask)
	if h.ws != nil {
		h.mux.Handle("GET /ws", h.ws)
	}
	h.mux.HandleFunc("/", h.notFound)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Not Found")
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.svc.ListAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch tasks")
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch statistics")
		return
	}
	response.JSON(w, http.StatusOK, stats)
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.GetByID(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to fetch task")
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{"task": task})
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title *string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Title is required and must be a string")
		return
	}
	if req.Title == nil {
		writeError(w, http.StatusBadRequest, "Title is required and must be a string")
		return
	}
	task, err := h.svc.Create(*req.Title)
	if err != nil {
		if usecase.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}
	h.broadcast.TaskCreated(task)
	response.JSON(w, http.StatusCreated, map[string]any{"task": task})
}

func (h *Handler) updateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title     *string `json:"title"`
		Completed *bool   `json:"completed"`
	}
	// decodeJSON rejects unknown keys, so a body carrying anything beyond
	// title/completed fails wholesale rather than applying partially.
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid update fields")
		return
	}
	task, err := h.svc.Update(r.PathValue("id"), usecase.TaskUpdate{
		Title:     req.Title,
		Completed: req.Completed,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		if usecase.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update task")
		return
	}
	h.broadcast.TaskUpdated(task)
	response.JSON(w, http.StatusOK, map[string]any{"task": task})
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.Delete(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete task")
		return
	}
	h.broadcast.TaskDeleted(task.ID)
	response.JSON(w, http.StatusOK, map[string]any{
		"message": "Task deleted successfully",
		"task":    task,
	})
}

func (h *Handler) toggleTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.Toggle(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to toggle task")
		return
	}
	h.broadcast.TaskUpdated(task)
	response.JSON(w, http.StatusOK, map[string]any{"task": task})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data")
	}
	return nil
}

func writeError(w http.ResponseWriter, code int, msg string) {
	response.JSON(w, code, map[string]string{"error": msg})
}
