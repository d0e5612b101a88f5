package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// passHandler is a grpc.UnaryHandler that returns ("ok", nil).
func passHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "ok", nil
}

func callWithKey(t *testing.T, g *Guard, header, key string) (interface{}, error) {
	t.Helper()
	ctx := context.Background()
	if key != "" {
		ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(header, key))
	}
	return g.UnaryInterceptor()(ctx, nil, &grpc.UnaryServerInfo{}, passHandler)
}

func TestUnaryInterceptor_ModeNone_PassesThrough(t *testing.T) {
	res, err := callWithKey(t, New("none", "x-api-key", "secret"), "x-api-key", "")
	if err != nil || res != "ok" {
		t.Fatalf("got %v, %v", res, err)
	}
}

func TestUnaryInterceptor_EmptyKey_PassesThrough(t *testing.T) {
	res, err := callWithKey(t, New("apikey", "x-api-key", ""), "x-api-key", "")
	if err != nil || res != "ok" {
		t.Fatalf("got %v, %v", res, err)
	}
}

func TestUnaryInterceptor_CorrectKey(t *testing.T) {
	res, err := callWithKey(t, New("apikey", "X-Alertd-Key", "supersecret"), "x-alertd-key", "supersecret")
	if err != nil || res != "ok" {
		t.Fatalf("got %v, %v", res, err)
	}
}

func TestUnaryInterceptor_WrongKey(t *testing.T) {
	_, err := callWithKey(t, New("apikey", "x-api-key", "supersecret"), "x-api-key", "guess")
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code: got %v, want Unauthenticated", status.Code(err))
	}
}

func TestUnaryInterceptor_MissingMetadata(t *testing.T) {
	_, err := callWithKey(t, New("apikey", "x-api-key", "supersecret"), "x-api-key", "")
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code: got %v, want Unauthenticated", status.Code(err))
	}
}

func TestMiddleware(t *testing.T) {
	h := New("apikey", "x-api-key", "k").Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := map[string]int{"": http.StatusUnauthorized, "bad": http.StatusUnauthorized, "k": http.StatusNoContent}
	for key, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
		if key != "" {
			req.Header.Set("X-Api-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("key %q: got %d, want %d", key, rec.Code, want)
		}
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	h := New("none", "x-api-key", "k").Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
}
