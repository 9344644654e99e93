package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"callpilot/internal/domain"
	"callpilot/internal/ports"
)

// Transport dials the processor's websocket stream for a call: audio chunks
// go out as binary frames, levels and status as JSON text frames, and push
// events come back the same way.
type Transport struct {
	cfg Config
}

func NewTransport(cfg Config) *Transport {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.callpilot.dev/v1"
	}
	return &Transport{cfg: cfg}
}

func (t *Transport) Connect(ctx context.Context, callID string) (ports.TransportSession, error) {
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		return nil, errors.New("CALLPILOT_API_KEY is not configured")
	}

	wsURL, err := buildStreamURL(t.cfg.APIBaseURL, callID)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+t.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to processor stream: %w", err)
	}

	session := &streamSession{
		conn:   conn,
		out:    make(chan outFrame, 64),
		events: make(chan ports.PushEvent, 64),
		done:   make(chan struct{}),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		<-ctx.Done()
		_ = session.Close()
	}()

	return session, nil
}

type outFrame struct {
	binary  bool
	payload []byte
}

type streamSession struct {
	conn *websocket.Conn

	out    chan outFrame
	events chan ports.PushEvent
	done   chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

// SendChunk forwards one opaque audio chunk. The single outbound channel
// preserves emission order.
func (s *streamSession) SendChunk(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	return s.send(outFrame{binary: true, payload: append([]byte(nil), chunk...)})
}

func (s *streamSession) SendLevel(sample domain.LevelSample) error {
	payload, err := json.Marshal(map[string]any{
		"type":  "level",
		"level": sample.Level,
		"at":    sample.At,
	})
	if err != nil {
		return err
	}
	return s.send(outFrame{payload: payload})
}

func (s *streamSession) SendStatus(state domain.CallState) error {
	payload, err := json.Marshal(map[string]string{
		"type":  "status",
		"state": string(state),
	})
	if err != nil {
		return err
	}
	return s.send(outFrame{payload: payload})
}

func (s *streamSession) send(frame outFrame) error {
	s.sendMu.RLock()
	closed := s.sendClosed
	s.sendMu.RUnlock()
	if closed {
		return errors.New("stream is already closed")
	}

	select {
	case s.out <- frame:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("stream closed")
	}
}

func (s *streamSession) Events() <-chan ports.PushEvent {
	return s.events
}

func (s *streamSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeSend()
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamSession) closeSend() {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.out)
		s.sendMu.Unlock()
	})
}

func (s *streamSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamSession) writeLoop() {
	defer s.wg.Done()

	for frame := range s.out {
		messageType := websocket.TextMessage
		if frame.binary {
			messageType = websocket.BinaryMessage
		}
		if err := s.conn.WriteMessage(messageType, frame.payload); err != nil {
			s.setErr(fmt.Errorf("failed to send frame: %w", err))
			return
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"end"}`)); err != nil {
		s.setErr(fmt.Errorf("failed to end stream: %w", err))
	}
}

func (s *streamSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read push event: %w", err))
			return
		}

		var event ports.PushEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}

		switch event.Type {
		case ports.PushStatusChanged, ports.PushAmmoAdded, ports.PushSegmentAdded, ports.PushCallChanged:
			s.emit(event)
		}
	}
}

func (s *streamSession) emit(event ports.PushEvent) {
	select {
	case s.events <- event:
	case <-s.done:
	default:
	}
}

func buildStreamURL(base, callID string) (string, error) {
	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	streamURL, err := url.Parse(base + "/stream")
	if err != nil {
		return "", fmt.Errorf("invalid backend base URL: %w", err)
	}

	query := streamURL.Query()
	query.Set("call", callID)
	streamURL.RawQuery = query.Encode()
	return streamURL.String(), nil
}
