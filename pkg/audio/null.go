package audio

import (
	"sync"
	"time"
)

// NullDevice is a silent output for machines without a sound card.
// Nodes end on a timer after the remaining buffer time, so sequencing behaves as with a speaker.
type NullDevice struct {
	mu     sync.Mutex
	open   bool
	epoch  time.Time
	volume float64
	now    func() time.Time
}

// NewNullDevice returns a closed silent device.
func NewNullDevice() *NullDevice {
	return &NullDevice{volume: 1, now: time.Now}
}

func (d *NullDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	d.epoch = d.now()
	return nil
}

func (d *NullDevice) Start(buf *Buffer, offset time.Duration, onEnded func()) (Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, &DeviceError{Op: "start", Err: ErrDeviceClosed}
	}

	remaining := buf.Duration() - offset
	if remaining < 0 {
		remaining = 0
	}
	n := &nullNode{onEnded: onEnded}
	n.timer = time.AfterFunc(remaining, n.fire)
	return n, nil
}

func (d *NullDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.epoch.IsZero() {
		return 0
	}
	return d.now().Sub(d.epoch)
}

func (d *NullDevice) SetVolume(vol float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = clampVolume(vol)
}

func (d *NullDevice) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

func (d *NullDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

type nullNode struct {
	mu      sync.Mutex
	timer   *time.Timer
	onEnded func()
}

func (n *nullNode) fire() {
	n.mu.Lock()
	f := n.onEnded
	n.onEnded = nil
	n.mu.Unlock()
	if f != nil {
		f()
	}
}

func (n *nullNode) Detach() {
	n.mu.Lock()
	n.onEnded = nil
	n.mu.Unlock()
}

func (n *nullNode) Stop() {
	if n.timer.Stop() {
		go n.fire()
	}
}
