package relay

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"quill/internal/models"
)

// captureSink records deliveries in order for assertions.
type captureSink struct {
	mu     sync.Mutex
	deltas []string
	dones  []*string
}

func (s *captureSink) OnDelta(id string, delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, delta)
}

func (s *captureSink) OnDone(id string, text *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dones = append(s.dones, text)
}

func (s *captureSink) snapshot() ([]string, []*string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deltas...), append([]*string(nil), s.dones...)
}

// failingReader yields its payload then a non-EOF error, like a connection
// reset mid-stream.
type failingReader struct {
	payload strings.Reader
	loaded  bool
	data    string
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.loaded {
		r.payload.Reset(r.data)
		r.loaded = true
	}
	n, err := r.payload.Read(p)
	if err == io.EOF {
		return n, errors.New("connection reset by peer")
	}
	return n, nil
}

func (r *failingReader) Close() error { return nil }

// TestRelay_RunDeliversInOrder tests a complete stream: every fragment in
// arrival order, then one terminal with the authoritative text
func TestRelay_RunDeliversInOrder(t *testing.T) {
	r := New(time.Minute)
	sink := &captureSink{}

	if _, ok := r.Open("turn-1", sink); !ok {
		t.Fatal("Expected Open to register the stream")
	}

	body := io.NopCloser(strings.NewReader(
		"{\"delta\":\"Hel\"}\n{\"delta\":\"lo\"}\n{\"done\":true,\"text\":\"Hello\"}\n"))
	r.Run("turn-1", body)

	deltas, dones := sink.snapshot()
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Errorf("Unexpected deltas: %v", deltas)
	}
	if len(dones) != 1 {
		t.Fatalf("Expected exactly one terminal delivery, got %d", len(dones))
	}
	if dones[0] == nil || *dones[0] != "Hello" {
		t.Errorf("Expected terminal text 'Hello', got %v", dones[0])
	}
	if r.Has("turn-1") {
		t.Error("Expected registry entry cleared after completion")
	}
}

// TestRelay_RunTransportFailure tests that a mid-stream failure delivers the
// synthetic error fragment then a terminal with a null payload
func TestRelay_RunTransportFailure(t *testing.T) {
	r := New(time.Minute)
	sink := &captureSink{}

	r.Open("turn-2", sink)
	r.Run("turn-2", &failingReader{data: "{\"delta\":\"partial\"}\n"})

	deltas, dones := sink.snapshot()
	if len(deltas) != 2 {
		t.Fatalf("Expected partial delta plus error fragment, got %v", deltas)
	}
	if deltas[0] != "partial" {
		t.Errorf("Expected delivered partial delta, got %q", deltas[0])
	}
	if !strings.HasPrefix(deltas[1], "\n\n[error]") {
		t.Errorf("Expected synthetic error fragment, got %q", deltas[1])
	}
	if len(dones) != 1 || dones[0] != nil {
		t.Errorf("Expected one terminal with null payload, got %v", dones)
	}
	if r.Has("turn-2") {
		t.Error("Expected registry entry cleared after failure")
	}
}

// TestRelay_RunEOFWithoutTerminal tests that a stream ending without a done
// record resolves with the accumulated fragment concatenation
func TestRelay_RunEOFWithoutTerminal(t *testing.T) {
	r := New(time.Minute)
	sink := &captureSink{}

	r.Open("turn-3", sink)
	r.Run("turn-3", io.NopCloser(strings.NewReader(
		"{\"delta\":\"Hello, \"}\n{\"delta\":\"world\"}\n")))

	_, dones := sink.snapshot()
	if len(dones) != 1 {
		t.Fatalf("Expected exactly one terminal delivery, got %d", len(dones))
	}
	if dones[0] == nil || *dones[0] != "Hello, world" {
		t.Errorf("Expected accumulated text 'Hello, world', got %v", dones[0])
	}
}

// TestRelay_RecordsAfterTerminalIgnored tests that trailing records after the
// done record produce no further deliveries
func TestRelay_RecordsAfterTerminalIgnored(t *testing.T) {
	r := New(time.Minute)
	sink := &captureSink{}

	r.Open("turn-4", sink)
	r.Run("turn-4", io.NopCloser(strings.NewReader(
		"{\"done\":true,\"text\":\"first\"}\n{\"delta\":\"late\"}\n{\"done\":true,\"text\":\"second\"}\n")))

	deltas, dones := sink.snapshot()
	if len(deltas) != 0 {
		t.Errorf("Expected no deltas after terminal, got %v", deltas)
	}
	if len(dones) != 1 || dones[0] == nil || *dones[0] != "first" {
		t.Errorf("Expected single terminal 'first', got %v", dones)
	}
}

// TestRelay_OpenRejectsDuplicateID tests that a correlation id cannot be
// opened twice while pending
func TestRelay_OpenRejectsDuplicateID(t *testing.T) {
	r := New(time.Minute)

	if _, ok := r.Open("dup", &captureSink{}); !ok {
		t.Fatal("Expected first Open to succeed")
	}
	if _, ok := r.Open("dup", &captureSink{}); ok {
		t.Error("Expected second Open with same id to be rejected")
	}
}

// TestRelay_DispatchUnknownIDDropped tests that records for unknown ids are
// silently dropped
func TestRelay_DispatchUnknownIDDropped(t *testing.T) {
	r := New(time.Minute)
	r.Dispatch("ghost", models.DeltaRecord("x"))
	if r.ActiveCount() != 0 {
		t.Errorf("Expected no pending streams, got %d", r.ActiveCount())
	}
}

// TestRelay_ActiveStreamOutlivesTTL tests that the TTL bounds silence, not
// total stream age: records arriving steadily keep a slow stream alive past
// the TTL and it still completes with its real terminal
func TestRelay_ActiveStreamOutlivesTTL(t *testing.T) {
	r := New(200 * time.Millisecond)
	sink := &captureSink{}

	r.Open("turn-slow", sink)

	// Four fragments 100ms apart: every gap is inside the TTL but the
	// stream's total age ends up well past it.
	for i := 0; i < 4; i++ {
		time.Sleep(100 * time.Millisecond)
		r.Dispatch("turn-slow", models.DeltaRecord("x"))
	}
	if !r.Has("turn-slow") {
		t.Fatal("Expected active stream to still be pending past the TTL")
	}

	text := "xxxx"
	r.Dispatch("turn-slow", models.DoneRecord(&text))

	deltas, dones := sink.snapshot()
	if len(deltas) != 4 {
		t.Errorf("Expected all 4 deltas delivered, got %d", len(deltas))
	}
	if len(dones) != 1 {
		t.Fatalf("Expected exactly one terminal delivery, got %d", len(dones))
	}
	if dones[0] == nil || *dones[0] != "xxxx" {
		t.Errorf("Expected real terminal text, got %v", dones[0])
	}
	if r.Has("turn-slow") {
		t.Error("Expected registry entry cleared after completion")
	}
}

// TestRelay_FailAfterDoneIsNoOp tests that a completed stream cannot be
// failed into a second terminal delivery
func TestRelay_FailAfterDoneIsNoOp(t *testing.T) {
	r := New(time.Minute)
	sink := &captureSink{}

	s, _ := r.Open("turn-5", sink)
	text := "done"
	s.apply(models.DoneRecord(&text))

	s.failOut("too late")

	_, dones := sink.snapshot()
	if len(dones) != 1 {
		t.Errorf("Expected exactly one terminal delivery, got %d", len(dones))
	}
}

// panicSink simulates a sink whose destination was torn down.
type panicSink struct{}

func (panicSink) OnDelta(id string, delta string) { panic("send on closed channel") }
func (panicSink) OnDone(id string, text *string)  { panic("send on closed channel") }

// TestRelay_DisposedSinkDoesNotPropagate tests that delivery to a torn-down
// destination is contained
func TestRelay_DisposedSinkDoesNotPropagate(t *testing.T) {
	r := New(time.Minute)

	r.Open("turn-6", panicSink{})
	// Must not panic.
	r.Run("turn-6", io.NopCloser(strings.NewReader(
		"{\"delta\":\"x\"}\n{\"done\":true,\"text\":\"x\"}\n")))

	if r.Has("turn-6") {
		t.Error("Expected registry entry cleared")
	}
}

// TestRelay_ShutdownFailsPendingStreams tests that shutdown closes out every
// pending stream with the failure contract
func TestRelay_ShutdownFailsPendingStreams(t *testing.T) {
	r := New(time.Minute)
	sink := &captureSink{}

	r.Open("turn-7", sink)
	r.Shutdown()

	deltas, dones := sink.snapshot()
	if len(deltas) != 1 || !strings.HasPrefix(deltas[0], "\n\n[error]") {
		t.Errorf("Expected synthetic error fragment, got %v", deltas)
	}
	if len(dones) != 1 || dones[0] != nil {
		t.Errorf("Expected terminal null payload, got %v", dones)
	}
	if r.ActiveCount() != 0 {
		t.Errorf("Expected empty registry after shutdown, got %d", r.ActiveCount())
	}
}
