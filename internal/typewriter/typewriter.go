// Package typewriter paces a complete reply out to a client a few
// characters at a time so it appears to be typed.
package typewriter

import (
	"sync"
	"time"
)

const (
	DefaultChunkSize = 2
	DefaultInterval  = 50 * time.Millisecond
)

// Split partitions text into groups of size runes, in order. The final
// group may be shorter. Empty text yields no groups.
func Split(text string, size int) []string {
	if size < 1 {
		size = DefaultChunkSize
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// Scheduler starts timed chunk deliveries. A Scheduler holds no per-reply
// state and may be shared by every session.
type Scheduler struct {
	interval  time.Duration
	chunkSize int
}

// New returns a scheduler emitting chunkSize runes every interval.
// Non-positive values select the defaults.
func New(interval time.Duration, chunkSize int) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	return &Scheduler{interval: interval, chunkSize: chunkSize}
}

// Interval returns the delay between successive chunks.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// ChunkSize returns the number of runes per chunk.
func (s *Scheduler) ChunkSize() int { return s.chunkSize }

// Start delivers text through emit, one chunk per interval, and calls
// onDone once after the last chunk. Empty text calls onDone right away.
//
// emit and onDone run on the delivery goroutine and must not call
// Cancel on the returned handle. If emit returns an error the delivery
// stops and onDone is not called.
func (s *Scheduler) Start(text string, emit func(chunk string) error, onDone func()) *Handle {
	h := &Handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go h.run(Split(text, s.chunkSize), s.interval, emit, onDone)
	return h
}

// Handle controls one in-flight delivery.
type Handle struct {
	// mu is held across every emit/onDone call so Cancel can wait out a
	// delivery that is already in progress.
	mu        sync.Mutex
	cancelled bool
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	delivered int
}

// Cancel stops the delivery. After Cancel returns no further emit or
// onDone call will start. Calling Cancel more than once is harmless.
func (h *Handle) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.stopOnce.Do(func() { close(h.stop) })
}

// Done is closed when the delivery goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Delivered returns how many chunks have been emitted so far.
func (h *Handle) Delivered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.delivered
}

func (h *Handle) run(chunks []string, interval time.Duration, emit func(string) error, onDone func()) {
	defer close(h.done)

	if len(chunks) == 0 {
		h.finish(onDone)
		return
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for i, chunk := range chunks {
		select {
		case <-h.stop:
			return
		case <-timer.C:
		}

		h.mu.Lock()
		if h.cancelled {
			h.mu.Unlock()
			return
		}
		if err := emit(chunk); err != nil {
			h.mu.Unlock()
			return
		}
		h.delivered++
		last := i == len(chunks)-1
		if last && onDone != nil {
			onDone()
		}
		h.mu.Unlock()

		if !last {
			// Re-armed only after the emit returns so consecutive chunks
			// are never closer than interval.
			timer.Reset(interval)
		}
	}
}

func (h *Handle) finish(onDone func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || onDone == nil {
		return
	}
	onDone()
}
