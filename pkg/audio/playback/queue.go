// Package playback implements the receive side of a voice session: a
// single-consumer FIFO of PCM16 packets that are decoded and played one at a
// time through a volume-controlled output path.
//
// Packets play in exactly the order they were enqueued and never overlap. A
// packet that fails to decode or play is logged and skipped; the queue has no
// failure state and is always either idle or draining.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/wav"
)

const (
	// DefaultMaxPending bounds the pending list. When full, the oldest
	// pending packet is dropped to make room.
	DefaultMaxPending = 256

	// DefaultWarnPending is the depth at which a stalled-consumer warning is logged.
	DefaultWarnPending = 64

	// DefaultVolume is the initial gain.
	DefaultVolume = 1.0
)

// EventKind identifies a packet or queue transition.
type EventKind int

const (
	EventEnqueued EventKind = iota
	EventDropped
	EventDecoding
	EventPlaying
	EventFinished
	EventFailed
	EventStopped
	EventIdle
)

// String returns the human-readable name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventEnqueued:
		return "enqueued"
	case EventDropped:
		return "dropped"
	case EventDecoding:
		return "decoding"
	case EventPlaying:
		return "playing"
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	case EventStopped:
		return "stopped"
	case EventIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Event describes one transition observed by [WithObserver].
type Event struct {
	Kind EventKind

	// Seq of the packet concerned. Zero for queue-level events.
	Seq uint64

	// Pending is the queue depth after the transition.
	Pending int

	// Err is set for EventFailed.
	Err error

	// DecodeTime is set for EventPlaying.
	DecodeTime time.Duration
}

// Option configures a [Queue] during construction.
type Option func(*Queue)

// WithDecoder replaces the default [WAVDecoder].
func WithDecoder(d Decoder) Option {
	return func(q *Queue) {
		if d != nil {
			q.decoder = d
		}
	}
}

// WithVolume sets the initial volume, clamped to [0, 1].
func WithVolume(v float32) Option {
	return func(q *Queue) { q.gain.set(v) }
}

// WithMaxPending bounds the pending list. Values below 1 are ignored.
func WithMaxPending(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxPending = n
		}
	}
}

// WithWarnPending sets the depth at which a warning is logged. Zero disables it.
func WithWarnPending(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.warnPending = n
		}
	}
}

// WithObserver registers fn to receive every [Event]. fn runs synchronously
// on the goroutine that caused the transition and must not block or call
// back into the queue.
func WithObserver(fn func(Event)) Option {
	return func(q *Queue) { q.observer = fn }
}

// Queue plays received packets strictly in arrival order through one
// [audio.Sink]. The gain node it routes every voice through is private to
// the queue and changed only by [Queue.SetVolume].
//
// All exported methods are safe for concurrent use.
type Queue struct {
	sink        audio.Sink
	decoder     Decoder
	gain        *gainNode
	conv        *audio.PacketConverter
	maxPending  int
	warnPending int
	observer    func(Event)

	mu      sync.Mutex
	pending []audio.PlaybackPacket
	playing bool
	current audio.Voice        // live voice, or nil
	cancel  context.CancelFunc // cancels the in-flight decode
	gen     uint64             // bumped by Stop; stale work is discarded
	warned  bool
	closed  bool

	notify chan struct{} // signalled when a packet is enqueued
	done   chan struct{} // closed by Close to stop the dispatch goroutine
	exited chan struct{} // closed when the dispatch goroutine returns
}

// New creates a [Queue] playing to sink and starts its dispatch goroutine.
// Call [Queue.Close] to stop the goroutine.
func New(sink audio.Sink, opts ...Option) *Queue {
	q := &Queue{
		sink:        sink,
		decoder:     WAVDecoder{},
		gain:        newGainNode(DefaultVolume),
		conv:        &audio.PacketConverter{TargetRate: sink.SampleRate()},
		maxPending:  DefaultMaxPending,
		warnPending: DefaultWarnPending,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	go q.dispatch()
	return q
}

// Enqueue appends pkt to the tail of the pending list and wakes the consumer
// if it is idle. When the list is full, the oldest pending packet is dropped.
// Enqueue after Close is a no-op.
func (q *Queue) Enqueue(pkt audio.PlaybackPacket) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}

	var dropped *audio.PlaybackPacket
	if len(q.pending) >= q.maxPending {
		d := q.pending[0]
		dropped = &d
		q.pending[0] = audio.PlaybackPacket{}
		q.pending = q.pending[1:]
	}
	q.pending = append(q.pending, pkt)
	depth := len(q.pending)

	warn := false
	switch {
	case q.warnPending > 0 && depth >= q.warnPending && !q.warned:
		q.warned = true
		warn = true
	case depth < q.warnPending/2:
		q.warned = false
	}
	q.mu.Unlock()

	if dropped != nil {
		slog.Debug("playback: queue full, dropped oldest packet", "seq", dropped.Seq, "max_pending", q.maxPending)
		q.emit(Event{Kind: EventDropped, Seq: dropped.Seq, Pending: depth})
	}
	if warn {
		slog.Warn("playback: pending queue is growing, consumer may be stalled", "pending", depth)
	}
	q.emit(Event{Kind: EventEnqueued, Seq: pkt.Seq, Pending: depth})

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// SetVolume clamps v to [0, 1] and applies it immediately, including to the
// packet currently playing. It returns the effective volume.
func (q *Queue) SetVolume(v float32) float32 {
	return q.gain.set(v)
}

// Volume returns the effective volume.
func (q *Queue) Volume() float32 {
	return q.gain.Level()
}

// Pending returns the number of packets waiting to play, excluding the one
// being decoded or played.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Playing reports whether the consumer is draining the queue.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Stop is a hard cancel: it stops the current voice, abandons any in-flight
// decode, discards every pending packet, and leaves the queue idle. Packets
// enqueued afterwards play normally.
func (q *Queue) Stop() {
	q.mu.Lock()
	cleared := len(q.pending)
	q.stopLocked()
	q.mu.Unlock()

	slog.Debug("playback: stopped", "discarded", cleared)
	q.emit(Event{Kind: EventStopped})
}

// Close stops playback and terminates the dispatch goroutine. It does not
// close the sink. Close is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.stopLocked()
	q.mu.Unlock()

	close(q.done)
	<-q.exited
	return nil
}

// stopLocked must be called with q.mu held.
func (q *Queue) stopLocked() {
	q.gen++
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	if q.current != nil {
		q.current.Stop()
		q.current = nil
	}
	clear(q.pending)
	q.pending = q.pending[:0]
	q.playing = false
	q.warned = false
}

func (q *Queue) emit(ev Event) {
	if q.observer != nil {
		q.observer(ev)
	}
}

// dispatch is the single consumer. It runs until Close.
func (q *Queue) dispatch() {
	defer close(q.exited)
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}
		for q.playNext() {
		}
	}
}

// playNext plays the head of the pending list to completion. It returns false
// when the list is empty or the queue is closed.
func (q *Queue) playNext() bool {
	q.mu.Lock()
	if q.closed || len(q.pending) == 0 {
		wasPlaying := q.playing
		q.playing = false
		q.mu.Unlock()
		if wasPlaying {
			q.emit(Event{Kind: EventIdle})
		}
		return false
	}
	pkt := q.pending[0]
	q.pending[0] = audio.PlaybackPacket{}
	q.pending = q.pending[1:]
	q.playing = true
	gen := q.gen
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.mu.Unlock()
	defer cancel()

	q.emit(Event{Kind: EventDecoding, Seq: pkt.Seq})

	start := time.Now()
	var buf audio.Buffer
	pcm, err := q.conv.Convert(pkt)
	if err == nil {
		buf, err = q.decoder.Decode(ctx, wav.WrapMono16(pcm, q.conv.TargetRate))
	}
	decodeTime := time.Since(start)

	q.mu.Lock()
	if q.gen != gen || q.closed {
		// Stopped while decoding; the result belongs to abandoned work.
		q.mu.Unlock()
		return true
	}
	if err != nil {
		q.cancel = nil
		q.mu.Unlock()
		q.fail(pkt, err)
		return true
	}
	voice, err := q.sink.Play(buf, q.gain)
	if err != nil {
		q.cancel = nil
		q.mu.Unlock()
		q.fail(pkt, err)
		return true
	}
	q.current = voice
	q.cancel = nil
	q.mu.Unlock()

	q.emit(Event{Kind: EventPlaying, Seq: pkt.Seq, DecodeTime: decodeTime})

	select {
	case <-voice.Done():
	case <-q.done:
		voice.Stop()
		return false
	}

	q.mu.Lock()
	stale := q.gen != gen
	if q.current == voice {
		q.current = nil
	}
	q.mu.Unlock()
	if stale {
		return true
	}
	if err := voice.Err(); err != nil {
		q.fail(pkt, err)
		return true
	}
	q.emit(Event{Kind: EventFinished, Seq: pkt.Seq})
	return true
}

func (q *Queue) fail(pkt audio.PlaybackPacket, err error) {
	slog.Warn("playback: skipping packet", "seq", pkt.Seq, "bytes", len(pkt.Data), "err", err)
	q.emit(Event{Kind: EventFailed, Seq: pkt.Seq, Err: err})
}
