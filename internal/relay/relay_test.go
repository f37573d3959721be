package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"chatrelay/internal/upstream"
	"chatrelay/pkg/domain"
)

type fakeStream struct {
	chunks []string
	err    error
	closed bool
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

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeUpstream struct {
	stream   *fakeStream
	openErr  error
	calls    int
	lastReq  upstream.Request
	complete upstream.Completion
	complErr error
}

func (f *fakeUpstream) StreamChat(_ context.Context, req upstream.Request) (upstream.Stream, error) {
	f.calls++
	f.lastReq = req
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

func (f *fakeUpstream) Complete(_ context.Context, req upstream.Request) (upstream.Completion, error) {
	f.calls++
	f.lastReq = req
	return f.complete, f.complErr
}

type flushBuffer struct {
	bytes.Buffer
	flushes int
}

func (b *flushBuffer) Flush() { b.flushes++ }

func TestPipePassesChunksThroughInOrder(t *testing.T) {
	up := &fakeUpstream{stream: &fakeStream{chunks: []string{"Hel", "", "lo, ", "world"}}}
	r := New(Config{APIKey: "k", Upstream: up})

	stream, err := r.Open(context.Background(), []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var out flushBuffer
	var seen []int
	res, err := r.Pipe(stream, &out, func(n int) { seen = append(seen, n) })
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	if out.String() != "Hello, world" {
		t.Fatalf("output = %q, want %q", out.String(), "Hello, world")
	}
	if res.Chunks != 3 || res.Bytes != len("Hello, world") {
		t.Fatalf("unexpected result %+v", res)
	}
	if out.flushes != 3 || len(seen) != 3 {
		t.Fatalf("expected a flush per chunk, flushes=%d callbacks=%d", out.flushes, len(seen))
	}
	if !up.stream.closed {
		t.Fatalf("stream must be closed after pipe")
	}
}

func TestOpenUsesFixedGenerationSettings(t *testing.T) {
	up := &fakeUpstream{stream: &fakeStream{}}
	r := New(Config{APIKey: "k", Upstream: up})
	if _, err := r.Open(context.Background(), nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	if up.lastReq.Model != "gpt-4o-mini" || up.lastReq.Temperature != 0.7 || up.lastReq.MaxTokens != 1000 {
		t.Fatalf("unexpected upstream request %+v", up.lastReq)
	}
}

func TestOpenWithoutCredentialNeverCallsUpstream(t *testing.T) {
	up := &fakeUpstream{stream: &fakeStream{chunks: []string{"x"}}}
	r := New(Config{Upstream: up})

	if _, err := r.Open(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := r.CheckModel(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured from model check, got %v", err)
	}
	if up.calls != 0 {
		t.Fatalf("upstream invoked %d times without credential", up.calls)
	}
}

func TestCredentialOptionalProvider(t *testing.T) {
	up := &fakeUpstream{stream: &fakeStream{}}
	r := New(Config{CredentialOptional: true, Upstream: up})
	if _, err := r.Open(context.Background(), nil); err != nil {
		t.Fatalf("open: %v", err)
	}
}

func TestOpenWrapsUpstreamError(t *testing.T) {
	up := &fakeUpstream{openErr: errors.New("429 rate limited")}
	r := New(Config{APIKey: "k", Upstream: up})
	_, err := r.Open(context.Background(), nil)
	if !errors.Is(err, ErrUpstream) || !strings.Contains(err.Error(), "429 rate limited") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestPipeEmptyStreamIsNotAnError(t *testing.T) {
	r := New(Config{APIKey: "k"})
	var out bytes.Buffer
	res, err := r.Pipe(&fakeStream{}, &out, nil)
	if err != nil || res.Chunks != 0 || out.Len() != 0 {
		t.Fatalf("expected clean empty result, res=%+v err=%v", res, err)
	}
}

func TestPipeMidStreamFailure(t *testing.T) {
	r := New(Config{APIKey: "k"})
	var out bytes.Buffer
	res, err := r.Pipe(&fakeStream{chunks: []string{"par"}, err: errors.New("connection reset")}, &out, nil)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if res.Chunks != 1 || out.String() != "par" {
		t.Fatalf("bytes before the failure must have been forwarded, got %q", out.String())
	}
}

func TestCheckModel(t *testing.T) {
	up := &fakeUpstream{complete: upstream.Completion{Model: "gpt-4o-mini-2024-07-18", Content: "Hello, I am GPT-4o mini", Raw: map[string]string{"id": "x"}}}
	r := New(Config{APIKey: "k", Upstream: up})
	got, err := r.CheckModel(context.Background())
	if err != nil {
		t.Fatalf("check model: %v", err)
	}
	if got.ConfiguredModel != "gpt-4o-mini" || got.ActualModel != "gpt-4o-mini-2024-07-18" || got.ResponseContent != "Hello, I am GPT-4o mini" {
		t.Fatalf("unexpected check %+v", got)
	}
	if up.lastReq.MaxTokens != 20 || len(up.lastReq.Messages) != 1 {
		t.Fatalf("unexpected model check request %+v", up.lastReq)
	}
}

func TestDecodeRequestCoercesContent(t *testing.T) {
	body := `{"messages":[
		{"role":"system","content":"be brief"},
		{"role":"user","content":[{"type":"text","text":"hi"}]},
		{"role":"user","content":42},
		{"role":"assistant"}
	]}`
	got, err := DecodeRequest(strings.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "be brief"},
		{Role: domain.RoleUser, Content: `[{"type":"text","text":"hi"}]`},
		{Role: domain.RoleUser, Content: "42"},
		{Role: domain.RoleAssistant, Content: ""},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDecodeRequestRejectsMalformedBody(t *testing.T) {
	for _, body := range []string{"{", `{"messages":null}`, `{}`} {
		if _, err := DecodeRequest(strings.NewReader(body)); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("body %s: expected ErrInvalidRequest, got %v", body, err)
		}
	}
	got, err := DecodeRequest(strings.NewReader(`{"messages":[]}`))
	if err != nil || len(got) != 0 {
		t.Fatalf("empty list: got %v err=%v", got, err)
	}
}
