package transport

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Options selects how Dial reaches the bus.
type Options struct {
	// Address is a WebSocket URL or host[:port]; empty means the local daemon.
	Address string
	// SerialPort, when set, is tried if the WebSocket connection fails.
	SerialPort string
	BaudRate   int
	// SerialOnly skips the WebSocket attempt.
	SerialOnly bool
	Logger     zerolog.Logger
}

// Dial connects to the bus, preferring the daemon's WebSocket bridge and
// falling back to a local serial adapter when one is configured.
func Dial(ctx context.Context, opts Options) (Port, error) {
	log := opts.Logger
	if opts.SerialOnly {
		if opts.SerialPort == "" {
			return nil, fmt.Errorf("dial: serial only but no serial port configured")
		}
		return openSerial(opts, log)
	}

	url := WebSocketURL(opts.Address)
	log.Debug().Str("url", url).Msg("connecting over websocket")
	ws, err := DialWebSocket(ctx, url)
	if err == nil {
		log.Info().Str("url", url).Msg("connected")
		return ws, nil
	}
	if opts.SerialPort == "" {
		return nil, err
	}
	log.Warn().Err(err).Str("serial", opts.SerialPort).Msg("websocket failed, trying serial")
	return openSerial(opts, log)
}

func openSerial(opts Options, log zerolog.Logger) (Port, error) {
	sp, err := OpenSerial(opts.SerialPort, SerialConfig{BaudRate: opts.BaudRate})
	if err != nil {
		return nil, err
	}
	log.Info().Str("serial", opts.SerialPort).Msg("connected")
	return sp, nil
}
