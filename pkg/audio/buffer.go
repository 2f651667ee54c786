package audio

import (
	"time"

	"github.com/gopxl/beep/v2"
)

// Buffer is a fully decoded, seekable piece of audio held in memory.
// It is safe for concurrent playback: every Streamer call returns an independent cursor.
type Buffer struct {
	buf *beep.Buffer
}

// NewBuffer drains the streamer into memory using the given format.
func NewBuffer(format beep.Format, s beep.Streamer) *Buffer {
	b := beep.NewBuffer(format)
	if s != nil {
		b.Append(s)
	}
	return &Buffer{buf: b}
}

// Format returns the sample rate and channel layout of the buffer.
func (b *Buffer) Format() beep.Format {
	return b.buf.Format()
}

// SampleRate returns the buffer's sample rate.
func (b *Buffer) SampleRate() beep.SampleRate {
	return b.buf.Format().SampleRate
}

// Len returns the number of frames.
func (b *Buffer) Len() int {
	return b.buf.Len()
}

// Duration returns the playing time of the whole buffer.
func (b *Buffer) Duration() time.Duration {
	return b.SampleRate().D(b.buf.Len())
}

// FrameAt converts an offset into a frame position, clamped to [0, Len].
func (b *Buffer) FrameAt(offset time.Duration) int {
	if offset <= 0 {
		return 0
	}
	n := b.SampleRate().N(offset)
	if n > b.buf.Len() {
		return b.buf.Len()
	}
	return n
}

// StreamFrom returns a streamer over the buffer starting at offset.
func (b *Buffer) StreamFrom(offset time.Duration) beep.StreamSeeker {
	return b.buf.Streamer(b.FrameAt(offset), b.buf.Len())
}
