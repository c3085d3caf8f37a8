// Package relay forwards decoded stream records to their destination as they
// arrive, tracking one in-progress message per correlation id.
package relay

import (
	"io"
	"log"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"quill/internal/models"
)

// Accumulation limits for a single streamed message
const (
	MaxChunksPerStream = 10000
	MaxAccumBytes      = 1 << 20 // 1MB

	// DefaultStreamTTL bounds how long a pending stream may stay silent;
	// activity refreshes the clock, so an upstream that goes quiet without
	// terminating is closed out by expiry instead of hanging the UI forever.
	DefaultStreamTTL = 2 * time.Minute

	cleanupInterval = 30 * time.Second
)

// Sink receives ordered deliveries for one correlation id. Implementations
// must tolerate calls after their destination is disposed; delivery to a
// disposed destination is a silent no-op, not a fault.
type Sink interface {
	OnDelta(id string, delta string)
	OnDone(id string, text *string)
}

// Stream is the in-progress message for one correlation id. Fragments are
// applied strictly in arrival order; exactly one terminal delivery happens
// per stream.
type Stream struct {
	ID   string
	sink Sink

	mu        sync.Mutex
	accum     strings.Builder
	chunks    int
	truncated bool
	done      bool
}

// Relay owns the pending-stream registry. Entries expire after ttl of
// inactivity so a hung upstream can never leave a correlation id dangling; a
// slow but live stream refreshes its entry with every record.
type Relay struct {
	pending *gocache.Cache
}

// New creates a relay whose pending streams expire after ttl without records.
func New(ttl time.Duration) *Relay {
	if ttl <= 0 {
		ttl = DefaultStreamTTL
	}

	c := gocache.New(ttl, cleanupInterval)
	r := &Relay{pending: c}

	// Expired streams are closed out with the same contract as a transport
	// failure so the consumer is never left hanging. Normal completion also
	// lands here via Delete, where the done flag makes this a no-op.
	c.OnEvicted(func(id string, value interface{}) {
		s, ok := value.(*Stream)
		if !ok {
			return
		}
		s.failOut("stream timed out")
	})

	return r
}

// Open registers a new stream for id. Returns false if id is already pending.
func (r *Relay) Open(id string, sink Sink) (*Stream, bool) {
	s := &Stream{ID: id, sink: sink}
	if err := r.pending.Add(id, s, gocache.DefaultExpiration); err != nil {
		log.Printf("⚠️  [RELAY] Stream already pending for id %s", id)
		return nil, false
	}
	return s, true
}

// Has reports whether a stream is still pending for id.
func (r *Relay) Has(id string) bool {
	_, ok := r.pending.Get(id)
	return ok
}

// ActiveCount returns the number of pending streams.
func (r *Relay) ActiveCount() int {
	return r.pending.ItemCount()
}

// Dispatch applies one record to the pending stream for id. Records for
// unknown ids are dropped. Every record resets the idle clock; the terminal
// record clears the registry entry.
func (r *Relay) Dispatch(id string, rec models.StreamRecord) {
	value, ok := r.pending.Get(id)
	if !ok {
		return
	}
	s := value.(*Stream)

	r.pending.SetDefault(id, s)
	s.apply(rec)
	if rec.Done {
		r.pending.Delete(id)
	}
}

// Fail closes out the pending stream for id with a synthetic error fragment
// followed by a terminal event carrying a null payload.
func (r *Relay) Fail(id string, msg string) {
	value, ok := r.pending.Get(id)
	if !ok {
		return
	}
	value.(*Stream).failOut(msg)
	r.pending.Delete(id)
}

// Run decodes the NDJSON body for id and forwards each record as it is
// decoded. Blocks until the stream terminates; always clears the pending
// entry before returning.
func (r *Relay) Run(id string, body io.ReadCloser) {
	defer body.Close()

	value, ok := r.pending.Get(id)
	if !ok {
		return
	}
	s := value.(*Stream)

	dec := &LineDecoder{}
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			// Incoming bytes reset the idle clock so a slow stream is
			// never expired mid-flight.
			r.pending.SetDefault(id, s)
			for _, rec := range dec.Feed(buf[:n]) {
				s.apply(rec)
				if s.isDone() {
					// Anything after the terminal record is ignored.
					r.pending.Delete(id)
					return
				}
			}
		}

		if err == io.EOF {
			if rec, left := dec.Flush(); left {
				s.apply(rec)
			}
			if !s.isDone() {
				// Stream ended without a terminal record; resolve the
				// completion contract with the accumulated fragments.
				s.apply(models.DoneRecord(nil))
			}
			r.pending.Delete(id)
			return
		}
		if err != nil {
			log.Printf("❌ [RELAY] Transport failure for stream %s: %v", id, err)
			s.failOut("connection to upstream lost")
			r.pending.Delete(id)
			return
		}
	}
}

// Shutdown closes out every pending stream so no consumer is left hanging.
func (r *Relay) Shutdown() {
	for id, item := range r.pending.Items() {
		if s, ok := item.Object.(*Stream); ok {
			s.failOut("server shutting down")
		}
		r.pending.Delete(id)
	}
}

// apply folds one record into the stream and forwards it. No reordering: the
// caller feeds records in arrival order and apply serializes delivery.
func (s *Stream) apply(rec models.StreamRecord) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}

	if rec.Done {
		s.done = true
		final := rec.Text
		if final == nil {
			// No authoritative final text; the concatenation of fragments
			// stands.
			t := s.accum.String()
			final = &t
		}
		s.mu.Unlock()
		s.deliverDone(final)
		return
	}

	if s.chunks < MaxChunksPerStream && s.accum.Len()+len(rec.Delta) <= MaxAccumBytes {
		s.accum.WriteString(rec.Delta)
		s.chunks++
	} else if !s.truncated {
		s.truncated = true
		log.Printf("⚠️  [RELAY] Accumulation limit reached for stream %s, further fragments pass through untracked", s.ID)
	}
	s.mu.Unlock()

	s.deliverDelta(rec.Delta)
}

// failOut delivers the synthetic failure sequence: one visible error fragment
// then a terminal event with a null payload. No-op once the stream is done.
func (s *Stream) failOut(msg string) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()

	s.deliverDelta("\n\n[error] " + msg)
	s.deliverDone(nil)
}

func (s *Stream) isDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// deliverDelta forwards a fragment, recovering if the sink's destination was
// torn down mid-delivery.
func (s *Stream) deliverDelta(delta string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("⚠️  [RELAY] Recovered from delta delivery for %s: %v", s.ID, r)
		}
	}()
	s.sink.OnDelta(s.ID, delta)
}

func (s *Stream) deliverDone(text *string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("⚠️  [RELAY] Recovered from terminal delivery for %s: %v", s.ID, r)
		}
	}()
	s.sink.OnDone(s.ID, text)
}
