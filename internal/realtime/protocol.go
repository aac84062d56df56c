package realtime

import (
	"encoding/json"

	"example.com/taskboard/internal/domain"
)

// Event names on the wire. Client-to-server events carry an optional seq;
// when it is non-zero the server answers with an "ack" envelope echoing it.
const (
	EventTasksList   = "tasks:list"
	EventTaskCreated = "task:created"
	EventTaskUpdated = "task:updated"
	EventTaskDeleted = "task:deleted"
	EventAck         = "ack"

	EventTaskCreate = "task:create"
	EventTaskUpdate = "task:update"
	EventTaskDelete = "task:delete"
)

// Envelope is one websocket frame in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Seq   int64           `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack is the reply delivered to the sender of a mutation event, distinct
// from the broadcast every client receives.
type Ack struct {
	Success bool         `json:"success"`
	Task    *domain.Task `json:"task,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type createPayload struct {
	Title string `json:"title"`
}

type updatePayload struct {
	ID        string  `json:"id"`
	Title     *string `json:"title"`
	Completed *bool   `json:"completed"`
}

type deletePayload struct {
	ID string `json:"id"`
}

type taskData struct {
	Task domain.Task `json:"task"`
}

type taskListData struct {
	Tasks []domain.Task `json:"tasks"`
}

type taskIDData struct {
	ID string `json:"id"`
}

func mustEnvelope(event string, data any) Envelope {
	raw, err := json.Marshal(data)
	if err != nil {
		// All payload types above marshal unconditionally.
		panic(err)
	}
	return Envelope{Event: event, Data: raw}
}
