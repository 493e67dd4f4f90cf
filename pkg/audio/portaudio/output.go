package portaudio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxlink/pkg/audio"
)

var (
	_ audio.Sink  = (*sink)(nil)
	_ audio.Voice = (*voice)(nil)
)

// sink pulls samples from the current voice on every output callback.
type sink struct {
	rate   int
	stream *portaudio.Stream

	mu     sync.Mutex
	cur    *voice
	closed bool
}

func (s *sink) SampleRate() int { return s.rate }

// Play replaces the current voice with buf. The queue never overlaps voices,
// so a replaced voice is one that was already finishing.
func (s *sink) Play(buf audio.Buffer, gain audio.Gain) (audio.Voice, error) {
	if buf.SampleRate != s.rate {
		return nil, fmt.Errorf("portaudio: buffer at %d Hz on %d Hz output", buf.SampleRate, s.rate)
	}
	v := &voice{sink: s, samples: buf.Samples, gain: gain, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("portaudio: play: output closed")
	}
	prev := s.cur
	s.cur = v
	s.mu.Unlock()

	if prev != nil {
		prev.finish()
	}
	if len(buf.Samples) == 0 {
		v.Stop()
	}
	return v, nil
}

// render is the output callback. It copies the current voice, scaled by its
// gain, and zero-fills the rest of out.
func (s *sink) render(out []float32) {
	s.mu.Lock()
	v := s.cur
	n := 0
	finished := false
	if v != nil {
		n, finished = v.fill(out)
		if finished {
			s.cur = nil
		}
	}
	s.mu.Unlock()

	clear(out[n:])
	if finished {
		v.finish()
	}
}

func (s *sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	v := s.cur
	s.cur = nil
	s.mu.Unlock()

	if v != nil {
		v.finish()
	}
	if s.stream == nil {
		return nil
	}
	if err := s.stream.Stop(); err != nil {
		_ = s.stream.Close()
		return fmt.Errorf("portaudio: stop output: %w", err)
	}
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("portaudio: close output: %w", err)
	}
	return nil
}

// voice is one buffer being rendered by a sink. pos is guarded by sink.mu.
type voice struct {
	sink    *sink
	samples []float32
	pos     int
	gain    audio.Gain

	once sync.Once
	done chan struct{}
}

// fill copies the next samples into out. Must be called with sink.mu held.
func (v *voice) fill(out []float32) (n int, finished bool) {
	g := v.gain.Level()
	n = copy(out, v.samples[v.pos:])
	for i := range n {
		out[i] *= g
	}
	v.pos += n
	return n, v.pos >= len(v.samples)
}

func (v *voice) Done() <-chan struct{} { return v.done }

// Err is always nil: PortAudio callback streams do not report per-buffer failures.
func (v *voice) Err() error { return nil }

func (v *voice) Stop() {
	v.sink.mu.Lock()
	if v.sink.cur == v {
		v.sink.cur = nil
	}
	v.sink.mu.Unlock()
	v.finish()
}

func (v *voice) finish() {
	v.once.Do(func() { close(v.done) })
}
