package backend

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestNewTransportDefaults(t *testing.T) {
	t.Parallel()

	tr := NewTransport(Config{})
	if tr.cfg.APIBaseURL != "https://api.callpilot.dev/v1" {
		t.Fatalf("unexpected base url: %q", tr.cfg.APIBaseURL)
	}
}

func TestTransportConnectRequiresAPIKey(t *testing.T) {
	t.Parallel()

	tr := NewTransport(Config{APIKey: ""})
	_, err := tr.Connect(context.Background(), "call-1")
	if err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestBuildStreamURLSchemes(t *testing.T) {
	t.Parallel()

	got, err := buildStreamURL("https://api.callpilot.dev/v1", "call-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "wss://api.callpilot.dev/v1/stream") {
		t.Fatalf("unexpected ws url: %s", got)
	}
	if !strings.Contains(got, "call=call-1") {
		t.Fatalf("expected call id in query: %s", got)
	}

	got, err = buildStreamURL("http://localhost:8080/v1/", "call-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "ws://localhost:8080/v1/stream") {
		t.Fatalf("unexpected ws url: %s", got)
	}
}

func TestBuildStreamURLEscapesCallID(t *testing.T) {
	t.Parallel()

	got, err := buildStreamURL("https://api.callpilot.dev/v1", "call one&two")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "call=call+one%26two") {
		t.Fatalf("expected escaped call id, got %s", got)
	}
}

func TestBuildStreamURLInvalidBase(t *testing.T) {
	t.Parallel()

	if _, err := buildStreamURL(":// bad", "call-1"); err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestStreamSessionSendOnClosedStream(t *testing.T) {
	t.Parallel()

	s := &streamSession{sendClosed: true}
	if err := s.SendChunk([]byte("x")); err == nil {
		t.Fatalf("expected closed error")
	}
}

func TestStreamSessionSendEmptyChunkIsNoOp(t *testing.T) {
	t.Parallel()

	s := &streamSession{sendClosed: true}
	if err := s.SendChunk(nil); err != nil {
		t.Fatalf("empty chunk must not touch the stream, got %v", err)
	}
}

func TestStreamSessionCloseSendIsIdempotent(t *testing.T) {
	t.Parallel()

	s := &streamSession{out: make(chan outFrame, 1)}
	s.closeSend()
	s.closeSend()
	if !s.sendClosed {
		t.Fatalf("expected stream marked closed")
	}
}

func TestStreamSessionSetErrIgnoresCloseErrors(t *testing.T) {
	t.Parallel()

	s := &streamSession{}
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	if s.waitErr() != nil {
		t.Fatalf("expected close error to be ignored")
	}

	s.setErr(errors.New("boom"))
	if s.waitErr() == nil || s.waitErr().Error() != "boom" {
		t.Fatalf("expected non-close error to be captured")
	}
}

func TestStreamSessionSetErrFirstWins(t *testing.T) {
	t.Parallel()

	s := &streamSession{}
	s.setErr(errors.New("first"))
	s.setErr(errors.New("second"))
	if s.waitErr() == nil || s.waitErr().Error() != "first" {
		t.Fatalf("expected first error to win")
	}
}
