package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"eventsource/pkg/sse"
)

const testTimeout = 2 * time.Second

// newTestClient creates a client with a short reconnection delay and closes
// it when the test ends.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RetryDelay = 20 * time.Millisecond

	c := New(url, cfg, slog.Default())
	t.Cleanup(c.Close)
	return c
}

// streamHandler writes the given chunks as an event stream, flushing after
// each, then blocks until the client goes away.
func streamHandler(chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, chunk := range chunks {
			fmt.Fprint(w, chunk)
			w.(http.Flusher).Flush()
		}
		<-r.Context().Done()
	}
}

func waitEvent(t *testing.T, ch <-chan sse.Event) sse.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for event")
		return sse.Event{}
	}
}

func waitState(t *testing.T, c *Client, want ReadyState) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if c.ReadyState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", c.ReadyState(), want)
}

func TestClientReceivesEvents(t *testing.T) {
	server := httptest.NewServer(streamHandler(
		"id: 1\nevent: greet\ndata: hello\n\n",
		"data: world\n\n",
	))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)

	opened := make(chan struct{}, 1)
	greets := make(chan sse.Event, 4)
	messages := make(chan sse.Event, 4)

	c.OnOpen(func() { opened <- struct{}{} })
	c.AddEventListener("greet", func(p any) { greets <- p.(sse.Event) })
	c.OnMessage(func(e sse.Event) { messages <- e })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case <-opened:
	case <-time.After(testTimeout):
		t.Fatal("open event never fired")
	}

	greet := waitEvent(t, greets)
	if greet.Type != "greet" || greet.Data != "hello" || greet.LastEventID != "1" {
		t.Errorf("greet event = %+v", greet)
	}
	if greet.Origin != server.URL {
		t.Errorf("origin = %q, want %q", greet.Origin, server.URL)
	}

	msg := waitEvent(t, messages)
	if msg.Type != "message" || msg.Data != "world" {
		t.Errorf("message event = %+v", msg)
	}
	// The committed ID persists onto later events.
	if msg.LastEventID != "1" {
		t.Errorf("message LastEventID = %q, want %q", msg.LastEventID, "1")
	}

	if got := c.ReadyState(); got != Open {
		t.Errorf("ReadyState() = %v, want Open", got)
	}
	if got := c.LastEventID(); got != "1" {
		t.Errorf("LastEventID() = %q, want %q", got, "1")
	}
}

func TestClientWrongContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "not a stream")
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)

	errs := make(chan error, 4)
	c.OnError(func(err error) { errs <- err })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case <-errs:
	case <-time.After(testTimeout):
		t.Fatal("error event never fired")
	}

	waitState(t, c, Closed)

	// Fatal: no reconnection may be scheduled.
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-errs:
		t.Errorf("unexpected second error event: %v", err)
	default:
	}
}

func TestClientUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)

	errs := make(chan error, 4)
	c.OnError(func(err error) { errs <- err })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case <-errs:
	case <-time.After(testTimeout):
		t.Fatal("error event never fired")
	}
	waitState(t, c, Closed)
}

func TestClientNoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)

	errCount := 0
	var mu sync.Mutex
	c.OnError(func(error) {
		mu.Lock()
		errCount++
		mu.Unlock()
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitState(t, c, Closed)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if errCount != 0 {
		t.Errorf("204 produced %d error events, want 0", errCount)
	}
}

func TestClientRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/new")
		w.WriteHeader(http.StatusTemporaryRedirect)
	})
	mux.Handle("/new", streamHandler("data: moved\n\n"))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL+"/old")

	errCount := 0
	var mu sync.Mutex
	c.OnError(func(error) {
		mu.Lock()
		errCount++
		mu.Unlock()
	})

	messages := make(chan sse.Event, 4)
	c.OnMessage(func(e sse.Event) { messages <- e })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	msg := waitEvent(t, messages)
	if msg.Data != "moved" {
		t.Errorf("event data = %q, want %q", msg.Data, "moved")
	}
	if msg.Origin != server.URL+"/new" {
		t.Errorf("origin = %q, want redirected URL", msg.Origin)
	}

	// A redirect must be silent.
	mu.Lock()
	defer mu.Unlock()
	if errCount != 0 {
		t.Errorf("redirect produced %d error events, want 0", errCount)
	}

	// The original URL stays visible on the façade.
	if got := c.URL(); got != server.URL+"/old" {
		t.Errorf("URL() = %q, want original", got)
	}
}

func TestClientReconnectWithLastEventID(t *testing.T) {
	var mu sync.Mutex
	var lastIDHeaders []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		lastIDHeaders = append(lastIDHeaders, r.Header.Get("Last-Event-ID"))
		attempt := len(lastIDHeaders)
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		if attempt == 1 {
			// Deliver one event, then end the stream to force a reconnect.
			fmt.Fprint(w, "id: 42\ndata: first\n\n")
			w.(http.Flusher).Flush()
			return
		}
		fmt.Fprint(w, "data: resumed\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)

	errs := make(chan error, 4)
	messages := make(chan sse.Event, 4)
	c.OnError(func(err error) { errs <- err })
	c.OnMessage(func(e sse.Event) { messages <- e })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	first := waitEvent(t, messages)
	if first.Data != "first" || first.LastEventID != "42" {
		t.Errorf("first event = %+v", first)
	}

	// The drop surfaces as an error event before the reconnect.
	select {
	case <-errs:
	case <-time.After(testTimeout):
		t.Fatal("error event never fired for dropped stream")
	}

	second := waitEvent(t, messages)
	if second.Data != "resumed" {
		t.Errorf("second event = %+v", second)
	}
	// The committed ID from the first connection survives the reconnect.
	if second.LastEventID != "42" {
		t.Errorf("second LastEventID = %q, want %q", second.LastEventID, "42")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lastIDHeaders) < 2 {
		t.Fatalf("expected at least 2 connections, got %d", len(lastIDHeaders))
	}
	if lastIDHeaders[0] != "" {
		t.Errorf("first connection sent Last-Event-ID %q, want empty", lastIDHeaders[0])
	}
	if lastIDHeaders[1] != "42" {
		t.Errorf("second connection sent Last-Event-ID %q, want %q", lastIDHeaders[1], "42")
	}
}

func TestClientRetryFieldControlsDelay(t *testing.T) {
	var mu sync.Mutex
	var connectTimes []time.Time

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		connectTimes = append(connectTimes, time.Now())
		attempt := len(connectTimes)
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		if attempt == 1 {
			// A valid retry field, then an invalid one that must not
			// overwrite it.
			fmt.Fprint(w, "retry: 150\nretry: abc\ndata: x\n\n")
			w.(http.Flusher).Flush()
			return
		}
		fmt.Fprint(w, "data: y\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)

	messages := make(chan sse.Event, 4)
	c.OnMessage(func(e sse.Event) { messages <- e })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitEvent(t, messages)
	waitEvent(t, messages)

	if got := c.RetryDelay(); got != 150*time.Millisecond {
		t.Errorf("RetryDelay() = %v, want 150ms", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(connectTimes) < 2 {
		t.Fatalf("expected a reconnect, got %d connections", len(connectTimes))
	}
	gap := connectTimes[1].Sub(connectTimes[0])
	if gap < 150*time.Millisecond {
		t.Errorf("reconnect gap = %v, want >= 150ms", gap)
	}
}

func TestClientIgnoresIDWithNUL(t *testing.T) {
	var mu sync.Mutex
	var lastIDHeaders []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		lastIDHeaders = append(lastIDHeaders, r.Header.Get("Last-Event-ID"))
		attempt := len(lastIDHeaders)
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		if attempt == 1 {
			fmt.Fprint(w, "id: good\ndata: a\n\nid: bad\x00id\ndata: b\n\n")
			w.(http.Flusher).Flush()
			return
		}
		fmt.Fprint(w, "data: c\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)

	messages := make(chan sse.Event, 8)
	c.OnMessage(func(e sse.Event) { messages <- e })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitEvent(t, messages)
	b := waitEvent(t, messages)
	if b.LastEventID != "good" {
		t.Errorf("event after corrupt id has LastEventID %q, want %q", b.LastEventID, "good")
	}
	waitEvent(t, messages)

	mu.Lock()
	defer mu.Unlock()
	if len(lastIDHeaders) < 2 {
		t.Fatalf("expected a reconnect, got %d connections", len(lastIDHeaders))
	}
	if lastIDHeaders[1] != "good" {
		t.Errorf("reconnect sent Last-Event-ID %q, want %q", lastIDHeaders[1], "good")
	}
}

func TestClientCloseDuringBackoff(t *testing.T) {
	var connects int32
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		connects++
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "retry: 100\ndata: x\n\n")
		w.(http.Flusher).Flush()
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)

	errs := make(chan error, 4)
	c.OnError(func(err error) { errs <- err })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Wait for the drop to enter the backoff window, then close.
	select {
	case <-errs:
	case <-time.After(testTimeout):
		t.Fatal("error event never fired")
	}
	c.Close()

	if got := c.ReadyState(); got != Closed {
		t.Errorf("ReadyState() = %v, want Closed", got)
	}

	time.Sleep(250 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if connects != 1 {
		t.Errorf("reconnect fired after Close: %d connections, want 1", connects)
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")
	c.Close()
	c.Close()

	if got := c.ReadyState(); got != Closed {
		t.Errorf("ReadyState() = %v, want Closed", got)
	}
	if err := c.Connect(context.Background()); err == nil {
		t.Error("Connect() after Close should fail")
	}
}

func TestClientConnectTwice(t *testing.T) {
	server := httptest.NewServer(streamHandler())
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Connect(context.Background()); err == nil {
		t.Error("second Connect() should fail")
	}
}

func TestClientContextCancelStopsReconnect(t *testing.T) {
	var connects int
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		connects++
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: x\n\n")
		w.(http.Flusher).Flush()
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)

	messages := make(chan sse.Event, 4)
	c.OnMessage(func(e sse.Event) { messages <- e })

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitEvent(t, messages)
	cancel()

	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	before := connects
	mu.Unlock()

	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if connects != before {
		t.Error("reconnects continued after context cancellation")
	}
}

func TestClientContextCancelClosesState(t *testing.T) {
	server := httptest.NewServer(streamHandler("data: x\n\n"))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)

	messages := make(chan sse.Event, 4)
	c.OnMessage(func(e sse.Event) { messages <- e })

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitEvent(t, messages)
	cancel()

	select {
	case <-c.Done():
	case <-time.After(testTimeout):
		t.Fatal("subscription did not terminate after cancellation")
	}

	// Cancelling ctx is equivalent to Close.
	if got := c.ReadyState(); got != Closed {
		t.Errorf("ReadyState() after cancel = %v, want Closed", got)
	}
}

func TestClientShorthandReplacement(t *testing.T) {
	server := httptest.NewServer(streamHandler("data: x\n\n"))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)

	first := make(chan sse.Event, 4)
	second := make(chan sse.Event, 4)
	c.OnMessage(func(e sse.Event) { first <- e })
	c.OnMessage(func(e sse.Event) { second <- e })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitEvent(t, second)
	select {
	case e := <-first:
		t.Errorf("replaced handler still received %+v", e)
	default:
	}
}

func TestClientCredentials(t *testing.T) {
	c := New("http://example.test/events", nil, nil)
	defer c.Close()

	if c.Credentials() {
		t.Error("Credentials() should default to false")
	}
	if c.httpClient.Jar != nil {
		t.Error("cookie jar should not exist before WithCredentials")
	}

	c.WithCredentials(true)
	if !c.Credentials() {
		t.Error("Credentials() = false after WithCredentials(true)")
	}
	if c.httpClient.Jar == nil {
		t.Error("cookie jar missing after WithCredentials(true)")
	}
}

func TestReadyStateString(t *testing.T) {
	tests := []struct {
		state ReadyState
		want  string
	}{
		{Connecting, "connecting"},
		{Open, "open"},
		{Closed, "closed"},
		{ReadyState(9), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ReadyState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
