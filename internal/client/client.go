// Package client is the gRPC client alertctl uses to reach alertd's
// EventService. Transient failures are retried with jittered exponential
// backoff; invalid or unauthenticated calls fail immediately.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/devicealert/pkg/types"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultBackoff    = 500 * time.Millisecond
	backoffMax        = 10 * time.Second
	backoffMultiplier = 2.0
)

// Options configures a Client.
type Options struct {
	Endpoint string
	APIKey   string
	Header   string // metadata key carrying APIKey; default "x-api-key"

	TLS    bool
	CAFile string // optional PEM bundle; system roots otherwise

	Timeout time.Duration // per attempt
	Retries int           // extra attempts after a transient failure
	Backoff time.Duration // first retry wait
}

// Client calls the EventService.
type Client struct {
	conn *grpc.ClientConn
	rpc  *types.EventServiceClient
	opts Options
}

// Dial opens a connection to opts.Endpoint.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("client: endpoint is required")
	}
	if opts.Header == "" {
		opts.Header = "x-api-key"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}

	dopts, err := dialOptions(opts)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.DialContext(ctx, opts.Endpoint, dopts...) //nolint:staticcheck
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", opts.Endpoint, err)
	}
	return &Client{conn: conn, rpc: types.NewEventServiceClient(conn), opts: opts}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// PublishMessage submits a channel message for evaluation.
func (c *Client) PublishMessage(ctx context.Context, ev types.MessageEvent) (*types.EventResult, error) {
	return c.call(ctx, types.MethodPublishMessage, func(ctx context.Context) (*types.EventResult, error) {
		return c.rpc.PublishMessage(ctx, &ev)
	})
}

// Tick asks alertd to run the scheduled checks for deviceID now.
func (c *Client) Tick(ctx context.Context, deviceID string) (*types.EventResult, error) {
	return c.call(ctx, types.MethodTick, func(ctx context.Context) (*types.EventResult, error) {
		return c.rpc.Tick(ctx, &types.TickRequest{DeviceID: deviceID})
	})
}

func (c *Client) call(ctx context.Context, method string, fn func(context.Context) (*types.EventResult, error)) (*types.EventResult, error) {
	if c.opts.APIKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, c.opts.Header, c.opts.APIKey)
	}

	bo := newBackoff(c.opts.Backoff)
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		res, err := fn(callCtx)
		cancel()
		if err == nil {
			return res, nil
		}
		if isPermanentError(err) || attempt >= c.opts.Retries {
			return nil, err
		}

		wait := bo.next()
		slog.Warn("client: call failed, will retry",
			"method", method,
			"attempt", attempt+1,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// isPermanentError reports gRPC errors that retrying cannot fix.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied, codes.Unimplemented:
		return true
	}
	return false
}

func dialOptions(opts Options) ([]grpc.DialOption, error) {
	if !opts.TLS {
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.CAFile != "" {
		caPEM, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("client: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("client: no valid certs in ca file %q", opts.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg))}, nil
}

// backoff is truncated exponential backoff with ±25% jitter.
type backoff struct {
	current time.Duration
}

func newBackoff(initial time.Duration) *backoff {
	return &backoff{current: initial}
}

func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}
