package bus

import (
	"context"
	"errors"
	"sync"
)

// Publisher is the downstream frame transport.
type Publisher interface {
	Publish(ctx context.Context, f Frame) error
	Close() error
}

// MemoryBus keeps published frames in order. Safe for concurrent use.
type MemoryBus struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("bus: closed")

func (b *MemoryBus) Publish(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.frames = append(b.frames, f)
	return nil
}

// Frames returns a copy of everything published so far.
func (b *MemoryBus) Frames() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Frame, len(b.frames))
	copy(out, b.frames)
	return out
}

// FramesOf returns the published frames of one type.
func (b *MemoryBus) FramesOf(t FrameType) []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Frame
	for _, f := range b.frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// Reset drops all recorded frames.
func (b *MemoryBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Fanout publishes each frame to every publisher in order. All publishers are
// attempted; their errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, fr Frame) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, fr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every frame.
type Discard struct{}

func (Discard) Publish(context.Context, Frame) error { return nil }
func (Discard) Close() error                         { return nil }
