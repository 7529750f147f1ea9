// Package interact mediates between a session's agent loop and its
// user: events flow out through the session bus, and user answers flow
// back in, paired to the question that asked for them by parentKey.
package interact

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/coday-ai/coday/pkg/events"
)

// ErrClosed is returned by waiters when the interactor shuts down.
var ErrClosed = errors.New("interactor closed")

// ErrBusy is returned by Deliver when the unsolicited-answer inbox is
// full; the answer was still echoed on the bus.
var ErrBusy = errors.New("answer inbox full")

const inboxBuffer = 16

type pendingQuestion struct {
	key string
	ch  chan events.Event
}

// Interactor is one session's conversational surface. The agent loop
// and services call Choose/Warn/Emit; the gateway feeds incoming
// answers through Deliver; the session driver picks up unsolicited
// answers with AwaitAnswer. The bus is a constructor input: the session
// owns it and closes it, the interactor only publishes.
type Interactor struct {
	bus     *Bus
	stamper *events.Stamper
	logger  *slog.Logger

	mu      sync.Mutex
	pending []*pendingQuestion // ask order, newest last
	closed  bool

	inbox chan events.Event
	done  chan struct{}
}

// NewInteractor creates an interactor publishing on bus.
func NewInteractor(bus *Bus, logger *slog.Logger) *Interactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interactor{
		bus:     bus,
		stamper: events.NewStamper(),
		logger:  logger.With("component", "interactor"),
		inbox:   make(chan events.Event, inboxBuffer),
		done:    make(chan struct{}),
	}
}

// Emit stamps an event this session produced and publishes it. The
// stamp makes the event addressable as a parentKey.
func (i *Interactor) Emit(e events.Event) events.Event {
	e.Timestamp = i.stamper.Next()
	i.bus.Publish(e)
	return e
}

// Publish forwards an already-stamped event, such as one from the agent
// loop, without re-keying it. The stamp is observed so the interactor's
// own events keep sorting after it.
func (i *Interactor) Publish(e events.Event) {
	if e.Timestamp != "" {
		i.stamper.Observe(e.Timestamp)
	}
	i.bus.Publish(e)
}

// Warn surfaces a non-fatal condition to the user, config merge drops
// for example.
func (i *Interactor) Warn(msg string) events.Event {
	return i.Emit(events.NewWarn(msg))
}

// Choose emits a choice and blocks until the user answers it. The
// answer is returned verbatim; callers validate it against options.
func (i *Interactor) Choose(ctx context.Context, options []string, invite, optionalQuestion string) (string, error) {
	q := events.NewChoice(options, invite, optionalQuestion)
	ch, err := i.register(&q)
	if err != nil {
		return "", err
	}
	i.bus.Publish(q)

	select {
	case ans, ok := <-ch:
		if !ok {
			return "", ErrClosed
		}
		return ans.Answer, nil
	case <-ctx.Done():
		i.unregister(q.Timestamp)
		return "", ctx.Err()
	}
}

// register stamps the question and files a waiter for its answer.
func (i *Interactor) register(q *events.Event) (chan events.Event, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, ErrClosed
	}
	q.Timestamp = i.stamper.Next()
	ch := make(chan events.Event, 1)
	i.pending = append(i.pending, &pendingQuestion{key: q.Timestamp, ch: ch})
	return ch, nil
}

func (i *Interactor) unregister(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx, p := range i.pending {
		if p.key == key {
			i.pending = append(i.pending[:idx], i.pending[idx+1:]...)
			return
		}
	}
}

// Deliver routes one incoming user answer and returns the stamped
// Answer event. An answer naming a pending question via parentKey
// unblocks that question; an answer without a parentKey unblocks the
// newest pending question, if any. Everything else is an unsolicited
// answer and lands in the inbox for AwaitAnswer.
func (i *Interactor) Deliver(answer, parentKey string) (events.Event, error) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return events.Event{}, ErrClosed
	}
	e := events.NewAnswer(answer, parentKey)
	e.Timestamp = i.stamper.Next()

	var target *pendingQuestion
	if parentKey != "" {
		for idx, p := range i.pending {
			if p.key == parentKey {
				target = p
				i.pending = append(i.pending[:idx], i.pending[idx+1:]...)
				break
			}
		}
	} else if n := len(i.pending); n > 0 {
		target = i.pending[n-1]
		i.pending = i.pending[:n-1]
	}
	i.mu.Unlock()

	i.bus.Publish(e)

	if target != nil {
		// Each question's channel gets exactly one send; buffered so a
		// waiter that already gave up does not block us.
		target.ch <- e
		return e, nil
	}

	select {
	case i.inbox <- e:
		return e, nil
	default:
		i.logger.Warn("answer inbox full, dropping", "parentKey", parentKey)
		i.Warn("too many queued messages, answer dropped")
		return e, ErrBusy
	}
}

// AwaitAnswer blocks until an unsolicited answer arrives. The session
// driver calls it between runs to pick up the user's next turn.
func (i *Interactor) AwaitAnswer(ctx context.Context) (events.Event, error) {
	select {
	case e := <-i.inbox:
		return e, nil
	case <-i.done:
		return events.Event{}, ErrClosed
	case <-ctx.Done():
		return events.Event{}, ctx.Err()
	}
}

// Close releases every waiter: pending Choose calls and AwaitAnswer
// return ErrClosed. The bus is closed by its owner, not here.
func (i *Interactor) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	pending := i.pending
	i.pending = nil
	close(i.done)
	i.mu.Unlock()

	for _, p := range pending {
		close(p.ch)
	}
}
