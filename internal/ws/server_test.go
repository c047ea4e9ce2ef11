package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/ledgerline/contractflow/internal/coordination"
	"github.com/ledgerline/contractflow/internal/event"
	"github.com/ledgerline/contractflow/internal/workflow"
	"go.uber.org/zap"
)

type wsFixture struct {
	srv         *httptest.Server
	set         *coordination.CoordinatorSet
	wfReg       *workflow.MemoryRegistry
	connections *coordination.ConnectionRegistry
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	logger := zap.NewNop()

	set := coordination.NewCoordinatorSet(logger)
	wfReg := workflow.NewMemoryRegistry()
	connections := coordination.NewConnectionRegistry(set, wfReg, logger)
	server := NewServer(connections, logger)

	r := chi.NewRouter()
	r.Get("/ws/workflows/{id}", func(w http.ResponseWriter, req *http.Request) {
		server.Attach(w, req, chi.URLParam(req, "id"))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &wsFixture{srv: srv, set: set, wfReg: wfReg, connections: connections}
}

func (f *wsFixture) dial(t *testing.T, workflowID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/workflows/" + workflowID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) event.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev event.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

// readUntil drains events until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ event.Type) event.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev := readEvent(t, conn)
		if ev.Type == typ {
			return ev
		}
	}
	t.Fatalf("no %s event arrived", typ)
	return event.Event{}
}

func writeMessage(t *testing.T, conn *websocket.Conn, kind string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": kind, "data": data})
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

func TestAttachEstablishesConnection(t *testing.T) {
	f := newWSFixture(t)
	f.wfReg.Put(workflow.Snapshot{
		WorkflowID:       "wf-1",
		ProcessingStatus: workflow.StatusProcessing,
		ContractName:     "acme-msa.pdf",
	})

	conn := f.dial(t, "wf-1")

	ev := readEvent(t, conn)
	if ev.Type != event.ConnectionEstablished {
		t.Fatalf("expected connection_established first, got %s", ev.Type)
	}
	if ev.WorkflowID != "wf-1" {
		t.Errorf("workflow id mismatch: %s", ev.WorkflowID)
	}
	if id, _ := ev.Data["connection_id"].(string); id == "" {
		t.Error("established event must carry the connection id")
	}
}

func TestAttachUnknownWorkflowCloses(t *testing.T) {
	f := newWSFixture(t)

	conn := f.dial(t, "missing")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the connection to be closed")
	}
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestPingPong(t *testing.T) {
	f := newWSFixture(t)
	f.wfReg.Put(workflow.Snapshot{WorkflowID: "wf-1", ProcessingStatus: workflow.StatusProcessing})

	conn := f.dial(t, "wf-1")
	readUntil(t, conn, event.ConnectionEstablished)

	writeMessage(t, conn, "ping", nil)
	readUntil(t, conn, event.Pong)
}

func TestSubmissionOverWebsocket(t *testing.T) {
	f := newWSFixture(t)
	f.wfReg.Put(workflow.Snapshot{WorkflowID: "wf-1", ProcessingStatus: workflow.StatusProcessing})

	conn := f.dial(t, "wf-1")
	readUntil(t, conn, event.ConnectionEstablished)

	coord := f.set.Get("wf-1")
	done := make(chan coordination.InputAnswer, 1)
	go func() {
		answer, err := coord.RequestInput(context.Background(), map[string]any{"amount": "required"}, 5*time.Second)
		if err != nil {
			t.Errorf("RequestInput: %v", err)
		}
		done <- answer
	}()

	required := readUntil(t, conn, event.HumanInputRequired)
	if id, _ := required.Data["request_id"].(string); id == "" {
		t.Fatal("input request event must carry the request id")
	}

	writeMessage(t, conn, "human_input_submission", map[string]any{
		"field_values": map[string]any{"amount": 1200},
		"user_notes":   "checked",
	})

	select {
	case answer := <-done:
		if answer.FieldValues["amount"] != float64(1200) {
			t.Errorf("expected amount 1200, got %v", answer.FieldValues["amount"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not resolved by websocket submission")
	}
	readUntil(t, conn, event.HumanInputAcknowledged)
}

func TestDisconnectCancelsPending(t *testing.T) {
	f := newWSFixture(t)
	f.wfReg.Put(workflow.Snapshot{WorkflowID: "wf-1", ProcessingStatus: workflow.StatusProcessing})

	conn := f.dial(t, "wf-1")
	readUntil(t, conn, event.ConnectionEstablished)

	coord := f.set.Get("wf-1")
	done := make(chan error, 1)
	go func() {
		_, err := coord.RequestInput(context.Background(), map[string]any{"amount": "required"}, 5*time.Second)
		done <- err
	}()
	readUntil(t, conn, event.HumanInputRequired)

	conn.Close()

	select {
	case err := <-done:
		if !errors.Is(err, coordination.ErrInputCancelled) {
			t.Fatalf("expected ErrInputCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not cancelled after the observer dropped")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.connections.ConnectionCount("wf-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection count never dropped to zero")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

