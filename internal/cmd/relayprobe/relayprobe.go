// Package relayprobe implements an operator smoke-test client for the relay.
//
// In room mode it joins over WebSocket and prints every event it receives.
// In presence mode it queries the admin gRPC API.
package relayprobe

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	entrypoint "github.com/louisbranch/watchparty/internal/platform/cmd"
	"github.com/louisbranch/watchparty/internal/platform/config"
	platformgrpc "github.com/louisbranch/watchparty/internal/platform/grpc"
	"github.com/louisbranch/watchparty/internal/platform/timeouts"
	presenceapi "github.com/louisbranch/watchparty/internal/services/relay/api/grpc/presence"
)

// Config holds probe configuration.
type Config struct {
	URL      string `env:"URL"       envDefault:"ws://localhost:4000/ws"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:"localhost:4001"`
	Origin   string `env:"ORIGIN"`
	Language string `env:"LANG"      envDefault:"en-US"`

	Room     string
	UserID   string
	Username string
	Say      string
	Presence string
	Count    int
	Wait     time.Duration
}

type frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const envPrefix = "WATCHPARTY_RELAYPROBE_"

// ParseConfig parses WATCHPARTY_RELAYPROBE_* environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnvWithPrefix(&cfg, envPrefix); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.URL, "url", cfg.URL, "relay WebSocket URL")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "relay presence gRPC address")
	fs.StringVar(&cfg.Origin, "origin", cfg.Origin, "Origin header sent on the WebSocket handshake")
	fs.StringVar(&cfg.Language, "lang", cfg.Language, "Accept-Language for presence errors")
	fs.StringVar(&cfg.Room, "room", "", "room to join over WebSocket")
	fs.StringVar(&cfg.UserID, "user-id", "probe", "user id announced on join")
	fs.StringVar(&cfg.Username, "username", "probe", "username announced on join")
	fs.StringVar(&cfg.Say, "say", "", "chat message to send after joining")
	fs.StringVar(&cfg.Presence, "presence", "", "room to list through the presence API")
	fs.IntVar(&cfg.Count, "count", 0, "exit after this many frames (0 waits for cancel)")
	fs.DurationVar(&cfg.Wait, "wait", 0, "exit after this long (0 waits for cancel)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.Room) == "" && strings.TrimSpace(cfg.Presence) == "" {
		return Config{}, errors.New("one of -room or -presence is required")
	}
	return cfg, nil
}

// Run executes the probe, writing results to stdout.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRelayProbe, func(ctx context.Context) error {
		return run(ctx, cfg, os.Stdout)
	})
}

func run(ctx context.Context, cfg Config, out io.Writer) error {
	if cfg.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Wait)
		defer cancel()
	}
	if room := strings.TrimSpace(cfg.Presence); room != "" {
		return probePresence(ctx, cfg, room, out)
	}
	return probeRoom(ctx, cfg, out)
}

func probeRoom(ctx context.Context, cfg Config, out io.Writer) error {
	header := http.Header{}
	if origin := strings.TrimSpace(cfg.Origin); origin != "" {
		header.Set("Origin", origin)
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeouts.GRPCDial)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, cfg.URL, header)
	cancel()
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", cfg.URL, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteJSON(frame{Type: "join-room", Payload: map[string]string{
		"roomId":   cfg.Room,
		"userId":   cfg.UserID,
		"username": cfg.Username,
	}}); err != nil {
		return fmt.Errorf("send join-room: %w", err)
	}
	if cfg.Say != "" {
		if err := conn.WriteJSON(frame{Type: "send-message", Payload: map[string]string{
			"text":   cfg.Say,
			"roomId": cfg.Room,
		}}); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}

	for received := 0; cfg.Count <= 0 || received < cfg.Count; received++ {
		var in inboundFrame
		if err := conn.ReadJSON(&in); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		fmt.Fprintf(out, "%s %s\n", in.Type, in.Payload)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return nil
}

func probePresence(ctx context.Context, cfg Config, room string, out io.Writer) error {
	conn, err := platformgrpc.DialWithHealth(ctx, cfg.GRPCAddr, presenceapi.ServiceName, timeouts.GRPCDial, log.Printf)
	if err != nil {
		return fmt.Errorf("dial presence %s: %w", cfg.GRPCAddr, err)
	}
	defer conn.Close()

	client := presenceapi.NewClient(conn)
	callCtx, cancel := context.WithTimeout(ctx, timeouts.GRPCRequest)
	defer cancel()
	if lang := strings.TrimSpace(cfg.Language); lang != "" {
		callCtx = presenceapi.WithAcceptLanguage(callCtx, lang)
	}

	members, err := client.ListRoom(callCtx, room)
	if err != nil {
		return err
	}
	stats, err := client.Stats(callCtx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "room %s: %d member(s)\n", room, len(members))
	for _, m := range members {
		fmt.Fprintf(out, "  %s %s %s\n", m.ConnectionID, m.UserID, m.Username)
	}
	fmt.Fprintf(out, "relay: %d connection(s) in %d room(s)\n", stats.Connections, stats.Rooms)
	return nil
}
