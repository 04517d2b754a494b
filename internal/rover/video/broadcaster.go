package video

import (
	"sync"

	"github.com/google/uuid"
	"github.com/josefmoeggis/RobotGUI/internal/util"
)

// Broadcaster fans committed pictures out to any number of viewers. The
// latest picture is replayed to a new subscriber so a stream never starts
// blank. A subscriber that cannot keep up misses frames; it is never
// dropped and never blocks the writer.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Picture
	last        *Picture
	closed      bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]chan Picture),
	}
}

// Subscribe registers a viewer and returns its channel together with the
// function that removes it. bufferSize below one is treated as one.
func (b *Broadcaster) Subscribe(bufferSize int) (<-chan Picture, func()) {
	if bufferSize < 1 {
		bufferSize = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Picture, bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := uuid.NewString()
	b.subscribers[id] = ch
	if b.last != nil {
		ch <- *b.last
	}

	util.ComponentLogger("video").WithField("subscriber", id).
		Debugf("Frame subscriber added (%d total)", len(b.subscribers))
	return ch, func() { b.unsubscribe(id) }
}

func (b *Broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
		util.ComponentLogger("video").WithField("subscriber", id).
			Debugf("Frame subscriber removed (%d remaining)", len(b.subscribers))
	}
}

// Broadcast hands pic to every subscriber with room for it.
func (b *Broadcaster) Broadcast(pic Picture) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.last = &pic
	for _, ch := range b.subscribers {
		select {
		case ch <- pic:
		default:
		}
	}
}

// Close ends every subscription. Later subscribers get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
