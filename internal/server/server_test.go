package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"chatrelay/internal/metrics"
	"chatrelay/internal/ratelimit"
	"chatrelay/internal/relay"
	"chatrelay/internal/upstream"
	"chatrelay/pkg/domain"
)

type fakeStream struct {
	chunks []string
	err    error
}

func (s *fakeStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	next := s.chunks[0]
	s.chunks = s.chunks[1:]
	return next, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeUpstream struct {
	mu       sync.Mutex
	stream   *fakeStream
	openErr  error
	calls    int
	messages []domain.ChatMessage
	complete upstream.Completion
	complErr error
}

func (f *fakeUpstream) StreamChat(_ context.Context, req upstream.Request) (upstream.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = req.Messages
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

func (f *fakeUpstream) Complete(_ context.Context, req upstream.Request) (upstream.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.complete, f.complErr
}

func newTestServer(apiKey string, up upstream.Client) *Server {
	return New(Config{
		Relay:   relay.New(relay.Config{APIKey: apiKey, Upstream: up}),
		Metrics: metrics.NewRelay(),
	})
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return payload
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer("k", &fakeUpstream{}).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestChatStreamsDeltas(t *testing.T) {
	up := &fakeUpstream{stream: &fakeStream{chunks: []string{"Hel", "", "lo, ", "world"}}}
	rec := postChat(t, newTestServer("k", up).Router(), `{"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "Hello, world" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if len(up.messages) != 2 || up.messages[0].Role != domain.RoleSystem {
		t.Fatalf("messages not forwarded: %+v", up.messages)
	}
}

func TestChatEmptyStreamReturnsEmptyBody(t *testing.T) {
	rec := postChat(t, newTestServer("k", &fakeUpstream{stream: &fakeStream{}}).Router(), `{"messages":[]}`)
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("expected empty 200, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestChatWithoutCredential(t *testing.T) {
	up := &fakeUpstream{stream: &fakeStream{chunks: []string{"x"}}}
	rec := postChat(t, newTestServer("", up).Router(), `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := decodeError(t, rec)["error"]; got != "OpenAI API key is not configured" {
		t.Fatalf("unexpected error %q", got)
	}
	if up.calls != 0 {
		t.Fatalf("upstream called without credential")
	}
}

func TestChatUpstreamFailureBeforeStream(t *testing.T) {
	up := &fakeUpstream{openErr: errors.New("model overloaded")}
	rec := postChat(t, newTestServer("k", up).Router(), `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	payload := decodeError(t, rec)
	if payload["error"] != "Failed to generate response" || payload["details"] != "model overloaded" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestChatMalformedBody(t *testing.T) {
	rec := postChat(t, newTestServer("k", &fakeUpstream{}).Router(), `{"messages":`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	payload := decodeError(t, rec)
	if payload["error"] != "Failed to process your request" || payload["details"] == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestChatBodyTooLarge(t *testing.T) {
	body := `{"messages":[{"role":"user","content":"` + strings.Repeat("a", maxBodyBytes) + `"}]}`
	rec := postChat(t, newTestServer("k", &fakeUpstream{stream: &fakeStream{}}).Router(), body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for oversized body, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer("k", &fakeUpstream{}).Router()
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/chat"},
		{http.MethodPost, "/model-check"},
		{http.MethodDelete, "/metrics"},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestModelCheck(t *testing.T) {
	up := &fakeUpstream{complete: upstream.Completion{
		Model:   "gpt-4o-mini-2024-07-18",
		Content: "Hello, I am GPT-4o mini",
		Raw:     map[string]any{"id": "chatcmpl-1"},
	}}
	rec := httptest.NewRecorder()
	newTestServer("k", up).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/model-check", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got domain.ModelCheck
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ConfiguredModel != relay.DefaultModel || got.ActualModel != "gpt-4o-mini-2024-07-18" || got.ResponseContent != "Hello, I am GPT-4o mini" {
		t.Fatalf("unexpected model check %+v", got)
	}
}

func TestModelCheckFailures(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer("", &fakeUpstream{}).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/model-check", nil))
	if rec.Code != http.StatusInternalServerError || decodeError(t, rec)["error"] != "OpenAI API key is not configured" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	up := &fakeUpstream{complErr: errors.New("invalid model")}
	newTestServer("k", up).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/model-check", nil))
	payload := decodeError(t, rec)
	if rec.Code != http.StatusInternalServerError || payload["error"] != "Failed to check model" || payload["details"] != "invalid model" {
		t.Fatalf("unexpected response %d %+v", rec.Code, payload)
	}
}

func TestMetricsExposed(t *testing.T) {
	h := newTestServer("k", &fakeUpstream{stream: &fakeStream{chunks: []string{"ok"}}}).Router()
	postChat(t, h, `{"messages":[{"role":"user","content":"hi"}]}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `chatrelay_requests_total{endpoint="chat",outcome="ok"} 1`) {
		t.Fatalf("request counter missing:\n%s", body)
	}
	if !strings.Contains(body, "chatrelay_stream_chunks_total 1") {
		t.Fatalf("chunk counter missing:\n%s", body)
	}
}

func TestMidStreamFailureAbortsConnection(t *testing.T) {
	up := &fakeUpstream{stream: &fakeStream{chunks: []string{"partial "}, err: errors.New("connection reset")}}
	srv := httptest.NewServer(newTestServer("k", up).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected streaming 200, got %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err == nil {
		t.Fatalf("expected truncated stream error, body %q", data)
	}
	if string(data) != "partial " {
		t.Fatalf("unexpected partial body %q", data)
	}
}

// blockingUpstream sends one delta and then waits for the request context.
type blockingUpstream struct {
	fakeUpstream
	canceled chan error
}

type blockingStream struct {
	ctx  context.Context
	sent bool
	done chan error
}

func (s *blockingStream) Recv() (string, error) {
	if !s.sent {
		s.sent = true
		return "first ", nil
	}
	<-s.ctx.Done()
	s.done <- s.ctx.Err()
	return "", s.ctx.Err()
}

func (s *blockingStream) Close() error { return nil }

func (b *blockingUpstream) StreamChat(ctx context.Context, _ upstream.Request) (upstream.Stream, error) {
	return &blockingStream{ctx: ctx, done: b.canceled}, nil
}

func TestClientDisconnectCancelsUpstream(t *testing.T) {
	up := &blockingUpstream{canceled: make(chan error, 1)}
	srv := httptest.NewServer(newTestServer("k", up).Router())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, len("first "))
	if _, err := io.ReadFull(resp.Body, buf); err != nil || string(buf) != "first " {
		t.Fatalf("expected first delta, got %q err=%v", buf, err)
	}
	cancel()

	select {
	case err := <-up.canceled:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("upstream context ended with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("upstream context was not canceled after the client went away")
	}
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	limiter, err := ratelimit.NewFixedWindow(client, "test:chat", 1, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	up := &fakeUpstream{stream: &fakeStream{}}
	h := New(Config{
		Relay:   relay.New(relay.Config{APIKey: "k", Upstream: up}),
		Limiter: limiter,
	}).Router()

	if rec := postChat(t, h, `{"messages":[]}`); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	rec := postChat(t, h, `{"messages":[]}`)
	if rec.Code != http.StatusTooManyRequests || decodeError(t, rec)["error"] != "rate limit exceeded" {
		t.Fatalf("second request: expected 429, got %d %s", rec.Code, rec.Body.String())
	}
	if up.calls != 1 {
		t.Fatalf("limited request reached upstream")
	}
}
