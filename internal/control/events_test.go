package control_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/internal/control"
	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/internal/transcribe"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

func dialEvents(t *testing.T, hub *control.Hub) (*websocket.Conn, context.Context) {
	t.Helper()
	h := newServer(t, control.Config{Recorder: &fakeRecorder{}, Hub: hub})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	// Wait until the hub has registered the client.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn, ctx
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) control.Event {
	t.Helper()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("message type = %v, want text", typ)
	}
	var e control.Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return e
}

func TestEvents_StreamsUpdatesAndTranscripts(t *testing.T) {
	t.Parallel()
	hub := control.NewHub()
	conn, ctx := dialEvents(t, hub)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	hub.OnUpdate(recorder.Update{
		Kind:      recorder.UpdateRecording,
		Message:   recorder.MsgRecording,
		SessionID: "rec-42",
		Time:      now,
	})
	hub.OnUpdate(recorder.Update{
		Kind:      recorder.UpdateFinished,
		Message:   recorder.MsgFinished,
		SessionID: "rec-42",
		Time:      now.Add(time.Second),
		Recording: sampleRecording(),
	})
	hub.OnResult(transcribe.Result{
		Recording:  sampleRecording(),
		Transcript: stt.Transcript{Text: "hello there", Language: "en"},
		Provider:   "whisper",
	})

	e := readEvent(t, ctx, conn)
	if e.Type != control.EventUpdate || e.Kind != "recording" || e.Message != "Recording..." {
		t.Errorf("first event = %+v", e)
	}
	e = readEvent(t, ctx, conn)
	if e.Kind != "finished" || e.Recording == nil || e.Recording.ID != "rec-42" {
		t.Errorf("second event = %+v", e)
	}
	e = readEvent(t, ctx, conn)
	if e.Type != control.EventTranscript || e.Transcript != "hello there" || e.Provider != "whisper" {
		t.Errorf("third event = %+v", e)
	}
}

func TestEvents_SkippedResultsNotPublished(t *testing.T) {
	t.Parallel()
	hub := control.NewHub()
	conn, ctx := dialEvents(t, hub)

	hub.OnResult(transcribe.Result{Recording: sampleRecording(), Err: transcribe.ErrSkipped})
	hub.OnResult(transcribe.Result{Recording: sampleRecording(), Err: errors.New("backend down")})

	e := readEvent(t, ctx, conn)
	if e.Type != control.EventTranscript || e.Error != "backend down" {
		t.Errorf("event = %+v, want the failed transcript only", e)
	}
}

func TestEvents_ClientRemovedOnClose(t *testing.T) {
	t.Parallel()
	hub := control.NewHub()
	conn, _ := dialEvents(t, hub)

	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d after close, want 0", hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvents_NoHub(t *testing.T) {
	t.Parallel()
	h := newServer(t, control.Config{Recorder: &fakeRecorder{}})
	req := httptest.NewRequest("GET", "/v1/events", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
