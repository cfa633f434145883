// Package speech serializes utterances to a speech-synthesis
// collaborator so overlapping requests never play at the same time.
package speech

import (
	"context"
	"log/slog"
	"sync"
)

// Speaker is the synthesis collaborator. Speak blocks until the
// utterance has finished playing or ctx is cancelled; CancelAll stops
// whatever is currently playing.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	CancelAll()
}

type item struct {
	text   string
	cancel context.CancelFunc
	done   chan error
}

// Queue plays utterances strictly one at a time. Non-priority items are
// played FIFO with no silent drops; whether to suppress a redundant
// narration is the producer's decision, not the queue's. A priority
// item cancels everything playing or queued and plays immediately.
type Queue struct {
	speaker Speaker
	logger  *slog.Logger

	mu      sync.Mutex
	items   []*item
	current *item
	muted   bool
	closed  bool

	wake chan struct{}
	stop chan struct{}
}

func NewQueue(speaker Speaker, logger *slog.Logger) *Queue {
	q := &Queue{
		speaker: speaker,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue submits text for playback and blocks until it has finished,
// been cancelled by a later priority item, or ctx is done. A cancelled
// utterance resolves with a nil error; it played as much as it was
// allowed to.
//
// When the queue is muted, non-priority text is swallowed and resolves
// immediately; priority text always plays, so a direct answer stays
// audible.
func (q *Queue) Enqueue(ctx context.Context, text string, priority bool) error {
	q.mu.Lock()
	if q.closed || (q.muted && !priority) {
		q.mu.Unlock()
		return nil
	}

	it := &item{text: text, done: make(chan error, 1)}
	if priority {
		q.preemptLocked()
		q.items = []*item{it}
	} else {
		q.items = append(q.items, it)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case err := <-it.done:
		return err
	case <-ctx.Done():
		q.abandon(it)
		return ctx.Err()
	}
}

// abandon withdraws an item whose caller stopped waiting. If it is
// already playing, playback is cancelled; if still queued, it is
// dropped so it cannot play after the caller has moved on.
func (q *Queue) abandon(it *item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == it {
		if it.cancel != nil {
			it.cancel()
		}
		return
	}
	for i, queued := range q.items {
		if queued == it {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// preemptLocked cancels the playing utterance and resolves everything
// queued behind it. Caller holds q.mu.
func (q *Queue) preemptLocked() {
	if q.current != nil && q.current.cancel != nil {
		q.current.cancel()
	}
	q.speaker.CancelAll()
	for _, queued := range q.items {
		queued.done <- nil
	}
	q.items = nil
}

// Mute swallows subsequent non-priority utterances. Anything already
// playing is left alone.
func (q *Queue) Mute() {
	q.mu.Lock()
	q.muted = true
	q.mu.Unlock()
}

// Unmute restores non-priority playback.
func (q *Queue) Unmute() {
	q.mu.Lock()
	q.muted = false
	q.mu.Unlock()
}

// Muted reports the current mute state.
func (q *Queue) Muted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.muted
}

// Close stops the worker and resolves anything still queued.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.preemptLocked()
	q.mu.Unlock()
	close(q.stop)
}

func (q *Queue) run() {
	for {
		select {
		case <-q.stop:
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			it := q.items[0]
			q.items = q.items[1:]

			ctx, cancel := context.WithCancel(context.Background())
			it.cancel = cancel
			q.current = it
			q.mu.Unlock()

			err := q.speaker.Speak(ctx, it.text)
			cancelled := ctx.Err() != nil
			cancel()

			q.mu.Lock()
			q.current = nil
			q.mu.Unlock()

			if cancelled {
				err = nil
			} else if err != nil {
				q.logger.Error("speech playback failed", "error", err)
			}
			it.done <- err
		}
	}
}
