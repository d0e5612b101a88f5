// Package auth enforces API-key authentication on the alertd gRPC and
// REST surfaces.
//
// When the mode is not "apikey" or no key is configured, every call passes
// through (local development). Otherwise the key must arrive in the
// configured header: gRPC metadata for EventService calls, an HTTP header
// for the REST API.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Guard checks presented API keys.
type Guard struct {
	header string
	key    string
}

// New returns a Guard. mode other than "apikey", or an empty key, disables
// the check.
func New(mode, header, key string) *Guard {
	if mode != "apikey" {
		key = ""
	}
	return &Guard{header: strings.ToLower(header), key: key}
}

// Enabled reports whether calls must present a key.
func (g *Guard) Enabled() bool { return g.key != "" }

func (g *Guard) valid(presented string) bool {
	return presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(g.key)) == 1
}

// UnaryInterceptor rejects gRPC calls without the key with codes.Unauthenticated.
func (g *Guard) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !g.Enabled() {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		vals := md.Get(g.header)
		if len(vals) == 0 || !g.valid(vals[0]) {
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}

		return handler(ctx, req)
	}
}

// Middleware rejects HTTP requests without the key with 401.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Enabled() && !g.valid(r.Header.Get(g.header)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
