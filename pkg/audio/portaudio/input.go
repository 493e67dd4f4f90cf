package portaudio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxlink/pkg/audio"
)

var _ audio.InputStream = (*inputStream)(nil)

// inputStream is an opened, initially stopped PortAudio capture stream.
type inputStream struct {
	stream  *portaudio.Stream
	process audio.ProcessFunc
	device  string

	mu      sync.Mutex
	running bool
	closed  bool
}

// callback runs on the PortAudio real-time thread.
func (s *inputStream) callback(in []float32) {
	s.process(in)
}

func (s *inputStream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("portaudio: resume %s: stream closed", s.device)
	}
	if s.running {
		return nil
	}
	if err := s.stream.Start(); err != nil {
		return classify("start input", s.device, err)
	}
	s.running = true
	return nil
}

func (s *inputStream) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.running {
		return nil
	}
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop input %s: %w", s.device, err)
	}
	s.running = false
	return nil
}

// Close stops the stream, which waits for an in-flight callback, and then
// releases the device.
func (s *inputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var stopErr error
	if s.running {
		stopErr = s.stream.Stop()
		s.running = false
	}
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("portaudio: close input %s: %w", s.device, err)
	}
	if stopErr != nil {
		return fmt.Errorf("portaudio: stop input %s: %w", s.device, stopErr)
	}
	return nil
}
