// Command alertctl submits channel messages and manual ticks to alertd.
//
//	alertctl [global flags] message -device D -channel C -data JSON
//	alertctl [global flags] tick -device D
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/obsidianstack/devicealert/internal/client"
	"github.com/obsidianstack/devicealert/pkg/types"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("alertctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	endpoint := global.String("endpoint", envDefault("ALERTD_ENDPOINT", "localhost:50051"), "alertd gRPC address")
	apiKey := global.String("api-key", os.Getenv("ALERTD_API_KEY"), "API key sent in the auth header")
	header := global.String("header", "x-api-key", "metadata key carrying the API key")
	useTLS := global.Bool("tls", false, "connect with TLS")
	caFile := global.String("ca", "", "PEM CA bundle for TLS")
	timeout := global.Duration("timeout", 10*time.Second, "per-attempt timeout")
	retries := global.Int("retries", 2, "retries after a transient failure")
	global.Usage = func() {
		fmt.Fprintln(stderr, "usage: alertctl [flags] message -device D -channel C -data JSON")
		fmt.Fprintln(stderr, "       alertctl [flags] tick -device D")
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx := context.Background()
	call, err := parseCommand(global.Args(), stderr)
	if err != nil {
		fmt.Fprintln(stderr, "alertctl:", err)
		return 2
	}

	c, err := client.Dial(ctx, client.Options{
		Endpoint: *endpoint,
		APIKey:   *apiKey,
		Header:   *header,
		TLS:      *useTLS,
		CAFile:   *caFile,
		Timeout:  *timeout,
		Retries:  *retries,
	})
	if err != nil {
		fmt.Fprintln(stderr, "alertctl:", err)
		return 1
	}
	defer c.Close()

	res, err := call(ctx, c)
	if err != nil {
		fmt.Fprintln(stderr, "alertctl:", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	enc.Encode(res) //nolint:errcheck
	if res.Failed > 0 {
		return 1
	}
	return 0
}

type command func(context.Context, *client.Client) (*types.EventResult, error)

func parseCommand(args []string, stderr io.Writer) (command, error) {
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	device := fs.String("device", "", "device ID")

	switch args[0] {
	case "message":
		channel := fs.String("channel", "", "channel name")
		data := fs.String("data", "", "message payload; JSON, or sent as a string when not valid JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		ev := types.MessageEvent{DeviceID: *device, ChannelName: *channel, Data: payload(*data)}
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		return func(ctx context.Context, c *client.Client) (*types.EventResult, error) {
			return c.PublishMessage(ctx, ev)
		}, nil

	case "tick":
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		if *device == "" {
			return nil, fmt.Errorf("-device is required")
		}
		id := *device
		return func(ctx context.Context, c *client.Client) (*types.EventResult, error) {
			return c.Tick(ctx, id)
		}, nil

	default:
		return nil, fmt.Errorf("unknown command %q", args[0])
	}
}

func payload(s string) any {
	if s == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
