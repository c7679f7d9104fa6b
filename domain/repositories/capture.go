package repositories

import (
	"context"
	"sync"
)

// CaptureSource opens the microphone pipeline. Each call to Open acquires the
// hardware exclusively until the returned handle is released.
type CaptureSource interface {
	Open(ctx context.Context) (*CaptureHandle, error)
}

// CaptureHandle is a scoped acquisition of a capture pipeline. Frames arrive
// in capture order on Frames() until Release is called, after which the
// channel is closed.
type CaptureHandle struct {
	frames  <-chan []float32
	release func()
	once    sync.Once
}

// NewCaptureHandle wraps a frame channel and the function that stops the
// hardware and closes that channel.
func NewCaptureHandle(frames <-chan []float32, release func()) *CaptureHandle {
	return &CaptureHandle{frames: frames, release: release}
}

// Frames returns the channel of captured float frames.
func (h *CaptureHandle) Frames() <-chan []float32 {
	return h.frames
}

// Release stops the capture. It is safe to call any number of times.
func (h *CaptureHandle) Release() {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}
