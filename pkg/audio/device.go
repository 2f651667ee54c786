// Package audio decodes narration payloads and drives the output device.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"

	"safestep/pkg/config"
)

// ErrDeviceClosed is returned when starting output on a closed device.
var ErrDeviceClosed = errors.New("audio device closed")

// DeviceError reports an output device failure (open, start).
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Node is one buffer connected to the output.
type Node interface {
	// Detach drops the completion handler. A detached node never reports its end.
	Detach()
	// Stop halts output. A node that is not detached reports its end after Stop.
	Stop()
}

// Device is an exclusively owned audio output with its own clock.
type Device interface {
	Open() error
	// Start connects buf to the output at offset. onEnded is called once, from
	// another goroutine, when the node finishes or is stopped without being detached.
	Start(buf *Buffer, offset time.Duration, onEnded func()) (Node, error)
	// Now returns the device clock.
	Now() time.Duration
	SetVolume(vol float64)
	Volume() float64
	Close() error
}

// speaker.Init may only run once per process; Close only clears the mixer.
var (
	speakerOnce  sync.Once
	speakerErr   error
	speakerReady atomic.Bool
)

// SpeakerDevice plays through the system speaker using gopxl/beep.
type SpeakerDevice struct {
	mu      sync.Mutex
	rate    beep.SampleRate
	volume  float64
	effects config.AudioEffectsConfig
	open    bool
	epoch   time.Time
	current *speakerNode
}

// NewSpeakerDevice creates a device mixing at cfg.OutputRate.
func NewSpeakerDevice(cfg *config.AudioConfig) *SpeakerDevice {
	rate := cfg.OutputRate
	if rate <= 0 {
		rate = 48000
	}
	return &SpeakerDevice{
		rate:    beep.SampleRate(rate),
		volume:  clampVolume(cfg.Volume),
		effects: cfg.Effects,
	}
}

// Open initializes the speaker on first use and starts a fresh clock.
func (d *SpeakerDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	speakerOnce.Do(func() {
		speakerErr = speaker.Init(d.rate, d.rate.N(time.Second/10))
		speakerReady.Store(speakerErr == nil)
	})
	if speakerErr != nil {
		slog.Error("Failed to initialize speaker", "error", speakerErr)
		return &DeviceError{Op: "open", Err: speakerErr}
	}
	d.open = true
	d.epoch = time.Now()
	return nil
}

// Start plays buf from offset, replacing anything currently playing.
func (d *SpeakerDevice) Start(buf *Buffer, offset time.Duration, onEnded func()) (Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil, &DeviceError{Op: "start", Err: ErrDeviceClosed}
	}
	if buf == nil {
		return nil, &DeviceError{Op: "start", Err: errors.New("nil buffer")}
	}
	if d.current != nil {
		d.current.Detach()
		d.current.Stop()
	}

	var s beep.Streamer = beep.Resample(3, buf.SampleRate(), d.rate, buf.StreamFrom(offset))
	if d.effects.Headset {
		s = NewHeadsetFilter(s, float64(d.rate), d.effects.LowCutoff, d.effects.HighCutoff)
	}
	vol := &effects.Volume{
		Streamer: s,
		Base:     2,
		Volume:   volumeToPower(d.volume),
		Silent:   d.volume <= 0.01,
	}

	n := &speakerNode{vol: vol, ctrl: &beep.Ctrl{Streamer: vol}}
	n.onEnded.Store(&onEnded)
	speaker.Play(beep.Seq(n.ctrl, beep.Callback(func() {
		// Callback runs on the speaker goroutine and must not block it.
		if f := n.onEnded.Swap(nil); f != nil && *f != nil {
			go (*f)()
		}
	})))
	d.current = n
	return n, nil
}

// Now returns monotonic time since Open.
func (d *SpeakerDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.epoch.IsZero() {
		return 0
	}
	return time.Since(d.epoch)
}

// SetVolume sets playback volume (0.0 to 1.0), live for the playing node.
func (d *SpeakerDevice) SetVolume(vol float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.volume = clampVolume(vol)
	if d.current != nil {
		speaker.Lock()
		d.current.vol.Volume = volumeToPower(d.volume)
		d.current.vol.Silent = d.volume <= 0.01
		speaker.Unlock()
	}
}

// Volume returns the current volume level.
func (d *SpeakerDevice) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// Close silences the mixer. The process-wide speaker context stays initialized.
func (d *SpeakerDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current != nil {
		d.current.Detach()
		d.current = nil
	}
	if d.open {
		speaker.Clear()
	}
	d.open = false
	return nil
}

// ShutdownSpeaker releases the process-wide output. Call once at exit.
func ShutdownSpeaker() {
	if speakerReady.Load() {
		speaker.Close()
	}
}

type speakerNode struct {
	ctrl    *beep.Ctrl
	vol     *effects.Volume
	onEnded atomic.Pointer[func()]
}

func (n *speakerNode) Detach() {
	n.onEnded.Store(nil)
}

// Stop drops the source so the sequence drains into its callback.
func (n *speakerNode) Stop() {
	speaker.Lock()
	n.ctrl.Streamer = nil
	speaker.Unlock()
}

func clampVolume(vol float64) float64 {
	if vol < 0 {
		return 0
	}
	if vol > 1 {
		return 1
	}
	return vol
}
