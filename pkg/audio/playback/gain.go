package playback

import (
	"math"
	"sync/atomic"

	"github.com/MrWong99/voxlink/pkg/audio"
)

var _ audio.Gain = (*gainNode)(nil)

// gainNode is the queue's persistent volume stage. Writes come from
// SetVolume; the output graph reads it once per rendered block.
type gainNode struct {
	bits atomic.Uint32
}

func newGainNode(level float32) *gainNode {
	g := &gainNode{}
	g.set(level)
	return g
}

// set stores level clamped to [0, 1] and returns the stored value.
func (g *gainNode) set(level float32) float32 {
	level = audio.ClampVolume(level)
	g.bits.Store(math.Float32bits(level))
	return level
}

// Level implements [audio.Gain].
func (g *gainNode) Level() float32 {
	return math.Float32frombits(g.bits.Load())
}
