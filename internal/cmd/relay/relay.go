// Package relay parses relay command flags and composes the server entrypoint.
package relay

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/louisbranch/watchparty/internal/platform/cmd"
	server "github.com/louisbranch/watchparty/internal/services/relay/app"
)

// Config holds relay command configuration.
type Config struct {
	HTTPAddr           string `env:"WATCHPARTY_RELAY_HTTP_ADDR"             envDefault:":4000"`
	GRPCAddr           string `env:"WATCHPARTY_RELAY_GRPC_ADDR"             envDefault:":4001"`
	AllowedOrigin      string `env:"WATCHPARTY_RELAY_ALLOWED_ORIGIN"        envDefault:"*"`
	SendBuffer         int    `env:"WATCHPARTY_RELAY_SEND_BUFFER"           envDefault:"256"`
	MaxFrameBytes      int    `env:"WATCHPARTY_RELAY_MAX_FRAME_BYTES"       envDefault:"1000000"`
	MaxFramesPerSecond int    `env:"WATCHPARTY_RELAY_MAX_FRAMES_PER_SECOND" envDefault:"500"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "relay HTTP/WebSocket listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "presence admin gRPC listen address (empty disables)")
	fs.StringVar(&cfg.AllowedOrigin, "allowed-origin", cfg.AllowedOrigin, "allowed WebSocket origin, * or a comma-separated list")
	fs.IntVar(&cfg.SendBuffer, "send-buffer", cfg.SendBuffer, "outbound frames queued per connection")
	fs.IntVar(&cfg.MaxFrameBytes, "max-frame-bytes", cfg.MaxFrameBytes, "largest accepted inbound frame")
	fs.IntVar(&cfg.MaxFramesPerSecond, "max-frames-per-second", cfg.MaxFramesPerSecond, "inbound frames allowed per connection per second")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the relay and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRelay, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:           cfg.HTTPAddr,
			GRPCAddr:           cfg.GRPCAddr,
			AllowedOrigin:      cfg.AllowedOrigin,
			SendBuffer:         cfg.SendBuffer,
			MaxFrameBytes:      cfg.MaxFrameBytes,
			MaxFramesPerSecond: cfg.MaxFramesPerSecond,
		}); err != nil {
			return fmt.Errorf("serve relay: %w", err)
		}
		return nil
	})
}
