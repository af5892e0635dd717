package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Daemon WebSocket defaults.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8000
	DefaultPath = "/api/move/ws/raw/write"
)

// WebSocketURL expands a user supplied address into a WebSocket URL:
//
//	""                  ws://127.0.0.1:8000/api/move/ws/raw/write
//	"ws://..." "wss://" unchanged
//	"host:9000"         ws://host:9000/api/move/ws/raw/write
//	"host"              ws://host:8000/api/move/ws/raw/write
//
// A port that does not parse falls back to the default port.
func WebSocketURL(address string) string {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return fmt.Sprintf("ws://%s:%d%s", DefaultHost, DefaultPort, DefaultPath)
	}
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	host, portStr, found := strings.Cut(addr, ":")
	port := DefaultPort
	if found {
		if p, err := strconv.ParseUint(portStr, 10, 16); err == nil {
			port = int(p)
		}
	}
	return fmt.Sprintf("ws://%s:%d%s", host, port, DefaultPath)
}

// IsLocal reports whether url points at this machine.
func IsLocal(url string) bool {
	return strings.Contains(url, "127.0.0.1") || strings.Contains(url, "localhost")
}
