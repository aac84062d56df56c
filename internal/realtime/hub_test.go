package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"example.com/taskboard/internal/domain"
	"example.com/taskboard/internal/storage"
	"example.com/taskboard/internal/storage/memory"
	"example.com/taskboard/internal/usecase"
)

func newTestHub(t *testing.T) (*Hub, *usecase.TaskService, *httptest.Server) {
	t.Helper()
	svc := usecase.NewTaskService(memory.New())
	hub := NewHub(svc, "http://localhost:5173", log.New(io.Discard, "", 0))
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, svc, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal %q: %v", msg, err)
	}
	return env
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, msg, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %q", msg)
	}
	var nerr net.Error
	if !errors.As(err, &nerr) || !nerr.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, seq int64, data string) {
	t.Helper()
	env := Envelope{Event: event, Seq: seq, Data: json.RawMessage(data)}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func decodeAck(t *testing.T, env Envelope) Ack {
	t.Helper()
	if env.Event != EventAck {
		t.Fatalf("expected ack envelope, got %q", env.Event)
	}
	var ack Ack
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return ack
}

func TestConnectReceivesCatchUpPush(t *testing.T) {
	_, svc, srv := newTestHub(t)
	for _, title := range []string{"a", "b"} {
		if _, err := svc.Create(title); err != nil {
			t.Fatalf("create %q: %v", title, err)
		}
	}

	conn := dial(t, srv)
	env := readEnvelope(t, conn)
	if env.Event != EventTasksList {
		t.Fatalf("expected %s first, got %q", EventTasksList, env.Event)
	}
	var data taskListData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(data.Tasks) != 2 {
		t.Fatalf("expected 2 tasks in catch-up push, got %d", len(data.Tasks))
	}
}

// nilListRepo mimics the SQL store on an empty table, where List returns a
// nil slice.
type nilListRepo struct{}

func (nilListRepo) Create(task domain.Task) (domain.Task, error) { return task, nil }
func (nilListRepo) List() ([]domain.Task, error)                 { return nil, nil }
func (nilListRepo) GetByID(string) (domain.Task, error) {
	return domain.Task{}, storage.ErrNotFound
}
func (nilListRepo) Update(task domain.Task) (domain.Task, error) { return task, nil }
func (nilListRepo) Delete(string) (domain.Task, error) {
	return domain.Task{}, storage.ErrNotFound
}
func (nilListRepo) Count(*bool) (int, error) { return 0, nil }

func TestCatchUpPushEncodesEmptyListAsArray(t *testing.T) {
	svc := usecase.NewTaskService(nilListRepo{})
	hub := NewHub(svc, "http://localhost:5173", log.New(io.Discard, "", 0))
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	env := readEnvelope(t, conn)
	if env.Event != EventTasksList {
		t.Fatalf("expected %s, got %q", EventTasksList, env.Event)
	}
	var data struct {
		Tasks json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if string(data.Tasks) != "[]" {
		t.Fatalf("expected empty array, got %s", data.Tasks)
	}
}

func TestFirstFrameIsAlwaysCatchUpPush(t *testing.T) {
	hub, _, srv := newTestHub(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			hub.Create(fmt.Sprintf("task %d", i))
			time.Sleep(time.Millisecond)
		}
	}()

	// Clients connecting mid-stream must see the list before any broadcast.
	for i := 0; i < 5; i++ {
		conn := dial(t, srv)
		env := readEnvelope(t, conn)
		if env.Event != EventTasksList {
			t.Fatalf("client %d: expected %s first, got %q", i, EventTasksList, env.Event)
		}
		conn.Close()
	}
	close(stop)
	wg.Wait()
}

func TestCreateBroadcastsToAllAndAcksSender(t *testing.T) {
	_, _, srv := newTestHub(t)

	x := dial(t, srv)
	readEnvelope(t, x) // tasks:list
	y := dial(t, srv)
	readEnvelope(t, y) // tasks:list

	sendEvent(t, x, EventTaskCreate, 1, `{"title":"  from x  "}`)

	// The sender receives both the fan-out event and its private ack.
	var ack Ack
	var broadcastID string
	for i := 0; i < 2; i++ {
		env := readEnvelope(t, x)
		switch env.Event {
		case EventAck:
			if env.Seq != 1 {
				t.Fatalf("ack for wrong seq: %d", env.Seq)
			}
			ack = decodeAck(t, env)
		case EventTaskCreated:
			var data taskData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				t.Fatalf("decode created: %v", err)
			}
			broadcastID = data.Task.ID
		default:
			t.Fatalf("unexpected event %q", env.Event)
		}
	}
	if !ack.Success || ack.Task == nil {
		t.Fatalf("expected success ack with task, got %+v", ack)
	}
	if ack.Task.Title != "from x" {
		t.Fatalf("expected trimmed title, got %q", ack.Task.Title)
	}
	if broadcastID != ack.Task.ID {
		t.Fatalf("broadcast task %q differs from acked task %q", broadcastID, ack.Task.ID)
	}

	// The other connected client sees the identical payload.
	env := readEnvelope(t, y)
	if env.Event != EventTaskCreated {
		t.Fatalf("expected %s on y, got %q", EventTaskCreated, env.Event)
	}
	var data taskData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode created on y: %v", err)
	}
	if data.Task.ID != ack.Task.ID {
		t.Fatalf("y saw task %q, expected %q", data.Task.ID, ack.Task.ID)
	}

	// A client connecting afterwards finds the task in its catch-up push.
	z := dial(t, srv)
	zenv := readEnvelope(t, z)
	var zdata taskListData
	if err := json.Unmarshal(zenv.Data, &zdata); err != nil {
		t.Fatalf("decode list on z: %v", err)
	}
	if len(zdata.Tasks) != 1 || zdata.Tasks[0].ID != ack.Task.ID {
		t.Fatalf("expected z to catch up with %q, got %+v", ack.Task.ID, zdata.Tasks)
	}
}

func TestCreateFailureAcksSenderOnly(t *testing.T) {
	_, _, srv := newTestHub(t)

	x := dial(t, srv)
	readEnvelope(t, x)
	y := dial(t, srv)
	readEnvelope(t, y)

	sendEvent(t, x, EventTaskCreate, 3, `{"title":"   "}`)
	ack := decodeAck(t, readEnvelope(t, x))
	if ack.Success || ack.Error == "" {
		t.Fatalf("expected failure ack with message, got %+v", ack)
	}
	// Other clients never learn a failed attempt occurred.
	expectSilence(t, y)
}

func TestUpdateNotFoundAcksWithoutBroadcast(t *testing.T) {
	_, _, srv := newTestHub(t)

	x := dial(t, srv)
	readEnvelope(t, x)
	y := dial(t, srv)
	readEnvelope(t, y)

	sendEvent(t, x, EventTaskUpdate, 7, `{"id":"missing","completed":true}`)
	ack := decodeAck(t, readEnvelope(t, x))
	if ack.Success {
		t.Fatalf("expected failure ack, got %+v", ack)
	}
	if ack.Error != "Task not found" {
		t.Fatalf("expected not-found message, got %q", ack.Error)
	}
	expectSilence(t, y)
}

func TestUpdateBroadcastsUpdatedTask(t *testing.T) {
	_, svc, srv := newTestHub(t)
	created, err := svc.Create("original")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	x := dial(t, srv)
	readEnvelope(t, x)
	y := dial(t, srv)
	readEnvelope(t, y)

	sendEvent(t, x, EventTaskUpdate, 2, `{"id":"`+created.ID+`","title":"renamed","completed":true}`)

	for i := 0; i < 2; i++ {
		env := readEnvelope(t, x)
		if env.Event == EventAck {
			ack := decodeAck(t, env)
			if !ack.Success || ack.Task == nil || !ack.Task.Completed {
				t.Fatalf("expected success ack with updated task, got %+v", ack)
			}
		}
	}
	env := readEnvelope(t, y)
	if env.Event != EventTaskUpdated {
		t.Fatalf("expected %s on y, got %q", EventTaskUpdated, env.Event)
	}
	var data taskData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode updated: %v", err)
	}
	if data.Task.Title != "renamed" || !data.Task.Completed {
		t.Fatalf("unexpected broadcast payload %+v", data.Task)
	}
}

func TestDeleteBroadcastsIDAndAcksBareSuccess(t *testing.T) {
	_, svc, srv := newTestHub(t)
	created, err := svc.Create("short lived")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	x := dial(t, srv)
	readEnvelope(t, x)

	sendEvent(t, x, EventTaskDelete, 5, `{"id":"`+created.ID+`"}`)

	var sawDeleted bool
	for i := 0; i < 2; i++ {
		env := readEnvelope(t, x)
		switch env.Event {
		case EventTaskDeleted:
			var data taskIDData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				t.Fatalf("decode deleted: %v", err)
			}
			if data.ID != created.ID {
				t.Fatalf("expected deleted id %q, got %q", created.ID, data.ID)
			}
			sawDeleted = true
		case EventAck:
			ack := decodeAck(t, env)
			if !ack.Success || ack.Task != nil {
				t.Fatalf("expected bare success ack, got %+v", ack)
			}
		default:
			t.Fatalf("unexpected event %q", env.Event)
		}
	}
	if !sawDeleted {
		t.Fatalf("missing deleted broadcast")
	}
	if _, err := svc.GetByID(created.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("task still present after channel delete: %v", err)
	}
}

func TestMutationWithoutSeqGetsNoAck(t *testing.T) {
	_, svc, srv := newTestHub(t)

	x := dial(t, srv)
	readEnvelope(t, x)

	sendEvent(t, x, EventTaskCreate, 0, `{"title":"fire and forget"}`)

	// Only the broadcast arrives; no ack follows it.
	env := readEnvelope(t, x)
	if env.Event != EventTaskCreated {
		t.Fatalf("expected %s, got %q", EventTaskCreated, env.Event)
	}
	expectSilence(t, x)

	tasks, err := svc.ListAll()
	if err != nil || len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d (%v)", len(tasks), err)
	}
}

func TestDisconnectForgetsConnection(t *testing.T) {
	hub, _, srv := newTestHub(t)

	conn := dial(t, srv)
	readEnvelope(t, conn)
	waitForClients(t, hub, 1)

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitForClients(t, hub, 0)
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", want, hub.ClientCount())
}
