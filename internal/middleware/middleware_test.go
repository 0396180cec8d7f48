package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
)

func debugLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogging(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		path    string
		handler http.HandlerFunc
		want    []string
	}{
		{
			name:   "explicit status",
			method: "POST",
			path:   "/webhooks/shipstation",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				w.Write([]byte("created"))
			},
			want: []string{"method=POST", "path=/webhooks/shipstation", "status=201", "bytes=7", "level=INFO", "user_agent=ssuctl"},
		},
		{
			name:   "implicit 200",
			method: "GET",
			path:   "/mcp",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("ok"))
			},
			want: []string{"status=200", "bytes=2"},
		},
		{
			name:    "health check is debug",
			method:  "GET",
			path:    "/healthz",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			want:    []string{"level=DEBUG", "status=200"},
		},
		{
			name:   "server error is error",
			method: "POST",
			path:   "/webhooks/shipstation",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			want: []string{"level=ERROR", "status=502"},
		},
		{
			name:   "client error is info",
			method: "POST",
			path:   "/webhooks/shipstation",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			want: []string{"level=INFO", "status=400"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("User-Agent", "ssuctl")

			Logging(debugLogger(&buf))(tt.handler).ServeHTTP(httptest.NewRecorder(), req)

			logged := buf.String()
			for _, want := range tt.want {
				if !strings.Contains(logged, want) {
					t.Errorf("log missing %q: %s", want, logged)
				}
			}
		})
	}
}

func TestLoggingIncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	h := Chain(RequestID(), Logging(debugLogger(&buf)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest("POST", "/webhooks/shipstation", nil)
	req.Header.Set(RequestIDHeader, "delivery-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "request_id=delivery-42") {
		t.Errorf("log missing request_id: %s", buf.String())
	}
}

func TestRecovery(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantBody   string
		wantLog    bool
	}{
		{
			name:       "panic before response",
			handler:    func(w http.ResponseWriter, r *http.Request) { panic("nil store") },
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Internal Server Error\n",
			wantLog:    true,
		},
		{
			name: "panic after header",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				panic("nil store")
			},
			wantStatus: http.StatusAccepted,
			wantBody:   "",
			wantLog:    true,
		},
		{
			name: "no panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("ok"))
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := httptest.NewRecorder()

			Recovery(debugLogger(&buf))(tt.handler).ServeHTTP(w, httptest.NewRequest("POST", "/webhooks/shipstation", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("Body = %q, want %q", w.Body.String(), tt.wantBody)
			}
			logged := strings.Contains(buf.String(), "panic recovered") && strings.Contains(buf.String(), "nil store")
			if logged != tt.wantLog {
				t.Errorf("panic logged = %v, want %v: %s", logged, tt.wantLog, buf.String())
			}
		})
	}
}

func TestRecoveryRepanicsAbortHandler(t *testing.T) {
	h := Recovery(slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("recover() = %v, want http.ErrAbortHandler", r)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/mcp", nil))
}

func TestChain(t *testing.T) {
	var trace []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				trace = append(trace, name+">")
				next.ServeHTTP(w, r)
				trace = append(trace, "<"+name)
			})
		}
	}

	h := Chain(tag("recovery"), tag("request_id"), tag("logging"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		trace = append(trace, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	want := []string{"recovery>", "request_id>", "logging>", "handler", "<logging", "<request_id", "<recovery"}
	if !slices.Equal(trace, want) {
		t.Errorf("trace = %v, want %v", trace, want)
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		wantSame bool
	}{
		{"generated when absent", "", false},
		{"propagated when present", "abc-123", true},
		{"replaced when oversized", strings.Repeat("x", 200), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest("POST", "/webhooks/shipstation", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if tt.wantSame && seen != tt.incoming {
				t.Errorf("request id = %q, want %q", seen, tt.incoming)
			}
			if !tt.wantSame && len(seen) != 36 {
				t.Errorf("request id = %q, want a generated UUID", seen)
			}
			if got := w.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("%s = %q, want %q", RequestIDHeader, got, seen)
			}
		})
	}

	if RequestIDFromContext(context.Background()) != "" {
		t.Error("RequestIDFromContext(background) should be empty")
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := wrapped(w).(*responseWriter)

	if again := wrapped(rw); again != rw {
		t.Error("wrapped() re-wrapped an existing responseWriter")
	}

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusNotFound)
	rw.Write([]byte("body"))

	if rw.status != http.StatusCreated || w.Code != http.StatusCreated {
		t.Errorf("status = %d (underlying %d), want %d", rw.status, w.Code, http.StatusCreated)
	}
	if rw.bytes != 4 {
		t.Errorf("bytes = %d, want 4", rw.bytes)
	}
}

func TestResponseWriterFlush(t *testing.T) {
	w := httptest.NewRecorder()
	var rw http.ResponseWriter = wrapped(w)

	f, ok := rw.(http.Flusher)
	if !ok {
		t.Fatal("responseWriter should implement http.Flusher")
	}
	f.Flush()

	if !w.Flushed {
		t.Error("underlying recorder was not flushed")
	}
	if err := http.NewResponseController(rw).Flush(); err != nil {
		t.Errorf("ResponseController.Flush() error = %v", err)
	}
}
