package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// recordingPort remembers writes and serves canned reads.
type recordingPort struct {
	written [][]byte
	reply   []byte
	closed  bool
}

func (p *recordingPort) Write(_ context.Context, frame []byte) error {
	if p.closed {
		return ErrClosed
	}
	p.written = append(p.written, append([]byte(nil), frame...))
	return nil
}

func (p *recordingPort) Read(_ context.Context) ([]byte, error) {
	if p.closed {
		return nil, ErrClosed
	}
	return p.reply, nil
}

func (p *recordingPort) Close() error {
	p.closed = true
	return nil
}

func TestWriteRead(t *testing.T) {
	p := &recordingPort{reply: []byte{1, 2, 3}}
	got, err := WriteRead(context.Background(), p, []byte{9}, time.Millisecond)
	if err != nil {
		t.Fatalf("WriteRead: %v", err)
	}
	if !bytes.Equal(got, p.reply) {
		t.Errorf("got % X, want % X", got, p.reply)
	}
	if len(p.written) != 1 || !bytes.Equal(p.written[0], []byte{9}) {
		t.Errorf("written = %v", p.written)
	}

	p.Close()
	if _, err := WriteRead(context.Background(), p, []byte{9}, time.Millisecond); !errors.Is(err, ErrClosed) {
		t.Errorf("closed port: err = %v, want ErrClosed", err)
	}
}

func TestWriteReadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &recordingPort{}
	if _, err := WriteRead(ctx, p, []byte{1}, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// echoServer answers every binary message with reply(msg), split in two
// messages to exercise read coalescing.
func echoServer(t *testing.T, reply func([]byte) []byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			out := reply(msg)
			half := len(out) / 2
			if err := conn.WriteMessage(websocket.BinaryMessage, out[:half]); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, out[half:]); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketPort(t *testing.T) {
	srv := echoServer(t, func(msg []byte) []byte {
		return append([]byte{0xAA, 0xBB}, msg...)
	})
	defer srv.Close()

	ctx := context.Background()
	p, err := DialWebSocket(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer p.Close()

	got, err := WriteRead(ctx, p, []byte{1, 2}, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("WriteRead: %v", err)
	}
	if want := []byte{0xAA, 0xBB, 1, 2}; !bytes.Equal(got, want) {
		t.Errorf("got % X, want % X", got, want)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Write(ctx, []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("write after close: err = %v, want ErrClosed", err)
	}
}

func TestWebSocketReadTimeout(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p, err := DialWebSocket(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer p.Close()

	got, err := p.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("silent server produced % X", got)
	}
}

func TestDialFallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Nothing listens on this address and no serial port is configured.
	_, err := Dial(ctx, Options{Address: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("Dial succeeded without a server")
	}

	_, err = Dial(ctx, Options{SerialOnly: true})
	if err == nil {
		t.Fatal("serial only Dial succeeded without a port")
	}

	srv := echoServer(t, func(msg []byte) []byte { return msg })
	defer srv.Close()
	p, err := Dial(ctx, Options{Address: wsURL(srv), SerialPort: "/dev/does-not-exist"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer p.Close()
	if _, ok := p.(*WebSocketPort); !ok {
		t.Errorf("Dial returned %T, want *WebSocketPort", p)
	}
}
