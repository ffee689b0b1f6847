package session

import (
	"errors"

	events "github.com/docker/go-events"

	"github.com/javanstorm/localdos/internal/status"
)

// Notice levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// StateEvent carries a fresh status snapshot. One is published after every
// observable change.
type StateEvent struct {
	Status status.Status
}

// NoticeEvent is a user-facing message. Err is set for warnings and errors.
type NoticeEvent struct {
	Level   string
	Message string
	Err     error
}

// Subscription is a registered event sink. Events arrive in publication
// order on a dedicated queue, so a slow subscriber never blocks the
// controller.
type Subscription struct {
	sink  events.Sink
	queue *events.Queue
}

// Subscribe registers sink for StateEvent and NoticeEvent values. The
// current status is delivered first.
func (c *Controller) Subscribe(sink events.Sink) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	sub := &Subscription{sink: sink, queue: events.NewQueue(sink)}
	if err := sub.queue.Write(StateEvent{Status: c.snapshotLocked()}); err != nil {
		return nil, err
	}
	if err := c.bus.Add(sub.queue); err != nil {
		sub.release()
		return nil, err
	}
	c.subs[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe removes sub and closes its sink.
func (c *Controller) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()

	if err := c.bus.Remove(sub.queue); err != nil && !errors.Is(err, events.ErrSinkClosed) {
		return err
	}
	return sub.release()
}

// release closes the queue. Channel sinks are closed first so that a
// reader that went away cannot stall the final flush.
func (s *Subscription) release() error {
	if ch, ok := s.sink.(*events.Channel); ok {
		ch.Close()
	}
	return s.queue.Close()
}

// Channel subscribes a buffered channel sink and returns it. Its Done
// channel is closed by Unsubscribe or Close.
func (c *Controller) Channel(buffer int) (*events.Channel, *Subscription, error) {
	ch := events.NewChannel(buffer)
	sub, err := c.Subscribe(ch)
	if err != nil {
		ch.Close()
		return nil, nil, err
	}
	return ch, sub, nil
}

// publishLocked sends the current snapshot to every subscriber.
func (c *Controller) publishLocked() {
	_ = c.bus.Write(StateEvent{Status: c.snapshotLocked()})
}

// noticeLocked records and publishes a notice.
func (c *Controller) noticeLocked(level, message string, err error) {
	c.lastNotice = &status.Notice{Level: level, Message: message}
	_ = c.bus.Write(NoticeEvent{Level: level, Message: message, Err: err})
}
