package transfer

import "sync"

// ProgressEvent reports a transfer's state and completion fraction.
type ProgressEvent struct {
	FriendID   uint32
	FileNumber uint32
	State      TransferState
	Fraction   float64
}

// ProgressHandler receives progress events. Handlers run synchronously on the
// goroutine that changed the transfer and should return quickly.
type ProgressHandler func(ProgressEvent)

type subscription struct {
	id      uint64
	handler ProgressHandler
}

// notifier fans events out to subscribers in subscription order.
type notifier struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

// subscribe registers h and returns a function that removes it.
func (n *notifier) subscribe(h ProgressHandler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscription{id: id, handler: h})

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s.id == id {
				n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
				return
			}
		}
	}
}

// emit delivers ev to a snapshot of the subscribers. No lock is held while
// handlers run, so a handler may query the transfer or unsubscribe.
func (n *notifier) emit(ev ProgressEvent) {
	n.mu.Lock()
	subs := make([]subscription, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, s := range subs {
		s.handler(ev)
	}
}
