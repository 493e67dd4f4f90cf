package capture

import (
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// accumulator re-frames arbitrarily sized host blocks into frames of exactly
// frameSize samples. It runs on the host audio thread and is not safe for
// concurrent use; the host serialises callbacks for one stream.
type accumulator struct {
	cfg  audio.DeviceConfig
	buf  []float32
	fill int
	seq  uint64
	emit func(audio.AudioFrame)
}

func newAccumulator(cfg audio.DeviceConfig, emit func(audio.AudioFrame)) *accumulator {
	return &accumulator{
		cfg:  cfg,
		buf:  make([]float32, cfg.FrameSize),
		emit: emit,
	}
}

// process copies block into the pending frame, emitting a fresh frame each
// time one fills up.
func (a *accumulator) process(block []float32) {
	for len(block) > 0 {
		n := copy(a.buf[a.fill:], block)
		a.fill += n
		block = block[n:]

		if a.fill < len(a.buf) {
			return
		}
		frame := audio.AudioFrame{
			Samples:    a.buf,
			SampleRate: a.cfg.SampleRate,
			Seq:        a.seq,
			Timestamp:  time.Duration(a.seq) * a.cfg.FrameDuration(),
		}
		a.emit(frame)

		// The emitted slice now belongs to the consumer.
		a.buf = make([]float32, a.cfg.FrameSize)
		a.fill = 0
		a.seq++
	}
}
