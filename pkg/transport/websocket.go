package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultReadTimeout bounds a WebSocket read when ctx has no deadline.
const DefaultReadTimeout = 100 * time.Millisecond

// WebSocketPort is a Port on the daemon's raw bus bridge. Each binary
// message carries raw bus bytes in either direction.
type WebSocketPort struct {
	url  string
	conn *websocket.Conn

	wmu sync.Mutex
	rmu sync.Mutex

	msgs chan []byte
	done chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	readErr   error
}

// DialWebSocket connects to url, typically built with WebSocketURL.
func DialWebSocket(ctx context.Context, url string) (*WebSocketPort, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if IsLocal(url) {
			return nil, fmt.Errorf("dial %s (is the reachy daemon running?): %w", url, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	w := &WebSocketPort{
		url:  url,
		conn: conn,
		msgs: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go w.pump()
	return w, nil
}

// URL returns the address the port is connected to.
func (w *WebSocketPort) URL() string { return w.url }

// pump moves incoming binary messages onto msgs until the connection fails.
func (w *WebSocketPort) pump() {
	defer close(w.msgs)
	for {
		typ, data, err := w.conn.ReadMessage()
		if err != nil {
			w.errMu.Lock()
			w.readErr = err
			w.errMu.Unlock()
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		select {
		case w.msgs <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocketPort) Write(ctx context.Context, frame []byte) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(dl)
	} else {
		_ = w.conn.SetWriteDeadline(time.Time{})
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Read waits for one message, then appends any others already queued. It
// returns an empty slice if nothing arrives within DefaultReadTimeout.
func (w *WebSocketPort) Read(ctx context.Context) ([]byte, error) {
	w.rmu.Lock()
	defer w.rmu.Unlock()

	timer := time.NewTimer(DefaultReadTimeout)
	defer timer.Stop()

	var out []byte
	select {
	case <-w.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case data, ok := <-w.msgs:
		if !ok {
			return nil, w.err()
		}
		out = append(out, data...)
	}
	for {
		select {
		case data, ok := <-w.msgs:
			if !ok {
				return out, nil
			}
			out = append(out, data...)
		default:
			return out, nil
		}
	}
}

func (w *WebSocketPort) err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.readErr == nil {
		return ErrClosed
	}
	return fmt.Errorf("websocket read: %w", w.readErr)
}

func (w *WebSocketPort) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.wmu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.wmu.Unlock()
		err = w.conn.Close()
	})
	return err
}
