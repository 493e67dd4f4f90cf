package playback_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/codec"
	"github.com/MrWong99/voxlink/pkg/audio/mock"
	"github.com/MrWong99/voxlink/pkg/audio/playback"
	"github.com/MrWong99/voxlink/pkg/audio/wav"
)

// recorder collects queue events.
type recorder struct {
	mu     sync.Mutex
	events []playback.Event
}

func (r *recorder) observe(ev playback.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// seqs returns the Seq of every event of the given kind, in order.
func (r *recorder) seqs(kind playback.EventKind) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint64
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev.Seq)
		}
	}
	return out
}

func (r *recorder) find(kind playback.EventKind) []playback.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []playback.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func packet(seq uint64, samples int) audio.PlaybackPacket {
	return audio.PlaybackPacket{
		Data:       codec.EncodePCM16(make([]float32, samples)),
		SampleRate: 24000,
		Channels:   1,
		Seq:        seq,
	}
}

func equalSeqs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueue_FIFOWithSlowDecode(t *testing.T) {
	t.Parallel()

	slow := wav.HeaderSize + 2*480
	dec := &mock.Decoder{DecodeFunc: func(_ context.Context, data []byte) (audio.Buffer, error) {
		if len(data) == slow {
			time.Sleep(40 * time.Millisecond)
		}
		return audio.Buffer{Samples: make([]float32, (len(data)-wav.HeaderSize)/2), SampleRate: 24000}, nil
	}}
	sink := &mock.Sink{Rate: 24000, AutoFinish: true}
	rec := &recorder{}
	q := playback.New(sink, playback.WithDecoder(dec), playback.WithObserver(rec.observe))
	defer q.Close()

	q.Enqueue(packet(1, 480))
	q.Enqueue(packet(2, 10))
	q.Enqueue(packet(3, 20))

	waitFor(t, func() bool { return len(rec.seqs(playback.EventFinished)) == 3 })
	if got := rec.seqs(playback.EventDecoding); !equalSeqs(got, []uint64{1, 2, 3}) {
		t.Errorf("decode order = %v, want [1 2 3]", got)
	}
	if got := rec.seqs(playback.EventPlaying); !equalSeqs(got, []uint64{1, 2, 3}) {
		t.Errorf("play order = %v, want [1 2 3]", got)
	}
	waitFor(t, func() bool { return !q.Playing() })
}

func TestQueue_NoOverlappingPlayback(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Rate: 24000, Started: make(chan *mock.Voice, 4)}
	q := playback.New(sink)
	defer q.Close()

	q.Enqueue(packet(1, 240))
	q.Enqueue(packet(2, 240))

	first := <-sink.Started
	time.Sleep(20 * time.Millisecond)
	if n := len(sink.Voices()); n != 1 {
		t.Fatalf("%d voices live while the first is playing, want 1", n)
	}
	first.Finish(nil)

	second := <-sink.Started
	second.Finish(nil)
	waitFor(t, func() bool { return !q.Playing() })
}

func TestQueue_StopBeforePlaybackClearsQueue(t *testing.T) {
	t.Parallel()

	dec := &mock.Decoder{DecodeFunc: func(ctx context.Context, _ []byte) (audio.Buffer, error) {
		<-ctx.Done()
		return audio.Buffer{}, ctx.Err()
	}}
	sink := &mock.Sink{Rate: 24000}
	rec := &recorder{}
	q := playback.New(sink, playback.WithDecoder(dec), playback.WithObserver(rec.observe))
	defer q.Close()

	q.Enqueue(packet(1, 240))
	q.Enqueue(packet(2, 240))
	q.Enqueue(packet(3, 240))
	q.Stop()

	if n := q.Pending(); n != 0 {
		t.Fatalf("Pending = %d after Stop, want 0", n)
	}
	if q.Playing() {
		t.Fatal("Playing = true after Stop")
	}

	time.Sleep(30 * time.Millisecond)
	if n := len(sink.Voices()); n != 0 {
		t.Fatalf("%d voices started after Stop, want 0", n)
	}
	if n := dec.CallCount(); n > 1 {
		t.Fatalf("decoded %d packets after Stop, want at most the in-flight one", n)
	}
	if len(rec.find(playback.EventFailed)) != 0 {
		t.Error("abandoned decode reported as a failure")
	}
}

func TestQueue_StopWhilePlaying(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Rate: 24000, Started: make(chan *mock.Voice, 4)}
	q := playback.New(sink)
	defer q.Close()

	q.Enqueue(packet(1, 240))
	q.Enqueue(packet(2, 240))
	v := <-sink.Started

	q.Stop()
	if !v.Stopped() {
		t.Fatal("current voice not stopped")
	}
	if q.Pending() != 0 || q.Playing() {
		t.Fatalf("Pending=%d Playing=%v after Stop", q.Pending(), q.Playing())
	}

	time.Sleep(20 * time.Millisecond)
	if n := len(sink.Voices()); n != 1 {
		t.Fatalf("abandoned packet was played: %d voices", n)
	}

	// The queue keeps working after a hard stop.
	q.Enqueue(packet(3, 240))
	next := <-sink.Started
	next.Finish(nil)
	waitFor(t, func() bool { return !q.Playing() })
}

func TestQueue_SetVolumeClamps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want float32
	}{
		{-0.5, 0},
		{1.7, 1},
		{0.3, 0.3},
		{0, 0},
		{1, 1},
		{float32(math.NaN()), 0},
	}
	q := playback.New(&mock.Sink{Rate: 24000})
	defer q.Close()

	for _, tt := range tests {
		if got := q.SetVolume(tt.in); got != tt.want {
			t.Errorf("SetVolume(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if got := q.Volume(); got != tt.want {
			t.Errorf("Volume() after SetVolume(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestQueue_VolumeAppliesToCurrentVoice(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Rate: 24000, Started: make(chan *mock.Voice, 1)}
	q := playback.New(sink, playback.WithVolume(0.8))
	defer q.Close()

	q.Enqueue(packet(1, 240))
	v := <-sink.Started

	gain := sink.Calls()[0].Gain
	if got := gain.Level(); got != 0.8 {
		t.Fatalf("initial gain = %v, want 0.8", got)
	}
	q.SetVolume(0.25)
	if got := gain.Level(); got != 0.25 {
		t.Fatalf("gain after SetVolume = %v, want 0.25", got)
	}
	v.Finish(nil)
}

func TestQueue_DecodeFailureIsSkipped(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Rate: 24000, AutoFinish: true}
	rec := &recorder{}
	q := playback.New(sink, playback.WithObserver(rec.observe))
	defer q.Close()

	corrupt := audio.PlaybackPacket{Data: []byte{1, 2, 3}, SampleRate: 24000, Seq: 2}
	q.Enqueue(packet(1, 240))
	q.Enqueue(corrupt)
	q.Enqueue(packet(3, 120))

	waitFor(t, func() bool {
		return len(rec.find(playback.EventFinished))+len(rec.find(playback.EventFailed)) == 3
	})
	waitFor(t, func() bool { return !q.Playing() })

	if got := rec.seqs(playback.EventFinished); !equalSeqs(got, []uint64{1, 3}) {
		t.Fatalf("finished = %v, want [1 3]", got)
	}
	failed := rec.find(playback.EventFailed)
	if len(failed) != 1 || failed[0].Seq != 2 {
		t.Fatalf("failed events = %+v, want one for seq 2", failed)
	}
	if !errors.Is(failed[0].Err, audio.ErrDecodeFailure) {
		t.Errorf("failure = %v, want ErrDecodeFailure", failed[0].Err)
	}
	if q.Playing() || q.Pending() != 0 {
		t.Errorf("queue not idle: Playing=%v Pending=%d", q.Playing(), q.Pending())
	}

	calls := sink.Calls()
	if len(calls) != 2 || len(calls[0].Buffer.Samples) != 240 || len(calls[1].Buffer.Samples) != 120 {
		t.Fatalf("unexpected play calls: %d", len(calls))
	}
}

func TestQueue_MalformedChannelLayoutIsSkipped(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Rate: 24000, AutoFinish: true}
	rec := &recorder{}
	q := playback.New(sink, playback.WithObserver(rec.observe))
	defer q.Close()

	// 5 samples cannot be whole 6-channel frames; 12 samples are two.
	partial := audio.PlaybackPacket{Data: codec.EncodePCM16(make([]float32, 5)), SampleRate: 24000, Channels: 6, Seq: 1}
	whole := audio.PlaybackPacket{Data: codec.EncodePCM16(make([]float32, 12)), SampleRate: 24000, Channels: 6, Seq: 2}
	q.Enqueue(partial)
	q.Enqueue(whole)

	waitFor(t, func() bool { return len(rec.find(playback.EventFinished)) == 1 })
	failed := rec.find(playback.EventFailed)
	if len(failed) != 1 || failed[0].Seq != 1 {
		t.Fatalf("failed events = %+v, want one for seq 1", failed)
	}
	if !errors.Is(failed[0].Err, audio.ErrDecodeFailure) || !errors.Is(failed[0].Err, audio.ErrPacketFormat) {
		t.Errorf("failure = %v, want ErrPacketFormat as a decode failure", failed[0].Err)
	}
	calls := sink.Calls()
	if len(calls) != 1 || len(calls[0].Buffer.Samples) != 2 {
		t.Fatalf("play calls = %d, want one downmixed 2-sample buffer", len(calls))
	}
}

func TestQueue_PlayFailureIsSkipped(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Rate: 24000, PlayError: errors.New("device gone")}
	rec := &recorder{}
	q := playback.New(sink, playback.WithObserver(rec.observe))
	defer q.Close()

	q.Enqueue(packet(1, 10))
	q.Enqueue(packet(2, 10))

	waitFor(t, func() bool { return len(rec.find(playback.EventFailed)) == 2 })
	if got := rec.seqs(playback.EventFailed); !equalSeqs(got, []uint64{1, 2}) {
		t.Fatalf("failed = %v, want [1 2]", got)
	}
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var once sync.Once
	dec := &mock.Decoder{DecodeFunc: func(_ context.Context, data []byte) (audio.Buffer, error) {
		once.Do(func() { <-release })
		return audio.Buffer{Samples: make([]float32, 1), SampleRate: 24000}, nil
	}}
	sink := &mock.Sink{Rate: 24000, AutoFinish: true}
	rec := &recorder{}
	q := playback.New(sink,
		playback.WithDecoder(dec),
		playback.WithMaxPending(2),
		playback.WithObserver(rec.observe),
	)
	defer q.Close()

	q.Enqueue(packet(1, 10))
	waitFor(t, func() bool { return dec.CallCount() == 1 })

	q.Enqueue(packet(2, 10))
	q.Enqueue(packet(3, 10))
	q.Enqueue(packet(4, 10))
	if n := q.Pending(); n != 2 {
		t.Fatalf("Pending = %d, want 2", n)
	}
	if got := rec.seqs(playback.EventDropped); !equalSeqs(got, []uint64{2}) {
		t.Fatalf("dropped = %v, want [2]", got)
	}

	close(release)
	waitFor(t, func() bool { return len(rec.seqs(playback.EventFinished)) == 3 })
	if got := rec.seqs(playback.EventFinished); !equalSeqs(got, []uint64{1, 3, 4}) {
		t.Fatalf("finished = %v, want [1 3 4]", got)
	}
}

func TestQueue_ConvertsToSinkFormat(t *testing.T) {
	t.Parallel()

	dec := &mock.Decoder{}
	sink := &mock.Sink{Rate: 24000, AutoFinish: true}
	q := playback.New(sink, playback.WithDecoder(dec))
	defer q.Close()

	// 480 stereo frames at 48 kHz → 240 mono samples at 24 kHz.
	q.Enqueue(audio.PlaybackPacket{
		Data:       make([]byte, 480*4),
		SampleRate: 48000,
		Channels:   2,
		Seq:        1,
	})
	waitFor(t, func() bool { return dec.CallCount() == 1 })

	hdr, pcm, err := wav.Parse(dec.Calls[0])
	if err != nil {
		t.Fatalf("decoder received invalid WAV: %v", err)
	}
	if hdr.SampleRate != 24000 || hdr.Channels != 1 {
		t.Errorf("header = %+v, want 24000 Hz mono", hdr)
	}
	if len(pcm) != 480 {
		t.Errorf("payload = %d bytes, want 480", len(pcm))
	}
}

func TestQueue_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Rate: 24000}
	q := playback.New(sink)
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	q.Enqueue(packet(1, 10))
	if q.Pending() != 0 {
		t.Fatal("Enqueue after Close was accepted")
	}
}

func TestWAVDecoder(t *testing.T) {
	t.Parallel()

	samples := []float32{0, 0.5, -0.5, 1, -1}
	data := wav.WrapMono16(codec.EncodePCM16(samples), 16000)

	buf, err := playback.WAVDecoder{}.Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.SampleRate != 16000 || len(buf.Samples) != len(samples) {
		t.Fatalf("buffer = %d samples @ %d Hz", len(buf.Samples), buf.SampleRate)
	}
	for i, s := range samples {
		if d := math.Abs(float64(buf.Samples[i] - s)); d > 1.0/32768 {
			t.Errorf("sample %d = %v, want %v", i, buf.Samples[i], s)
		}
	}

	stereo := wav.Wrap(make([]byte, 8), 16000, 2, 16)
	if _, err := (playback.WAVDecoder{}).Decode(context.Background(), stereo); !errors.Is(err, audio.ErrDecodeFailure) {
		t.Errorf("stereo Decode = %v, want ErrDecodeFailure", err)
	}
	if _, err := (playback.WAVDecoder{}).Decode(context.Background(), []byte("junk")); !errors.Is(err, audio.ErrDecodeFailure) {
		t.Errorf("junk Decode = %v, want ErrDecodeFailure", err)
	}
}
