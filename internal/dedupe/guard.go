// ABOUTME: Thread-safe TTL guard keyed by chat and message ID
// ABOUTME: Rejects a submission whose key is already held by an in-flight turn

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTTL bounds how long a key is held without being released.
const DefaultTTL = 10 * time.Minute

// DefaultMaxSize caps the number of held keys.
const DefaultMaxSize = 10000

// Key builds the guard key for a message submitted to a chat.
func Key(chatID, messageID string) string {
	return chatID + "/" + messageID
}

type entry struct {
	acquired time.Time
	element  *list.Element
}

// Guard tracks in-flight keys. The oldest key is evicted when the guard is
// full.
type Guard struct {
	mu      sync.Mutex
	held    map[string]*entry
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a guard and starts its background sweeper. Non-positive
// arguments select the defaults.
func New(ttl time.Duration, maxSize int) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	g := &Guard{
		held:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go g.sweepLoop()
	return g
}

// Acquire holds key. It returns false when key is already held.
func (g *Guard) Acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if e, ok := g.held[key]; ok {
		if now.Sub(e.acquired) < g.ttl {
			return false
		}
		g.removeLocked(key, e)
	}
	if len(g.held) >= g.maxSize {
		if front := g.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			g.removeLocked(oldest, g.held[oldest])
		}
	}
	g.held[key] = &entry{acquired: now, element: g.order.PushBack(key)}
	return true
}

// Release frees key. Releasing a key that is not held does nothing.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.held[key]; ok {
		g.removeLocked(key, e)
	}
}

// Held reports whether key is currently held.
func (g *Guard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.held[key]
	return ok && g.now().Sub(e.acquired) < g.ttl
}

// Len returns the number of held keys, expired ones included until swept.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}

func (g *Guard) removeLocked(key string, e *entry) {
	if e == nil {
		return
	}
	g.order.Remove(e.element)
	delete(g.held, key)
}

func (g *Guard) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.done:
			return
		}
	}
}

// sweep drops expired keys. Keys are ordered by acquisition so it stops at
// the first live one.
func (g *Guard) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for front := g.order.Front(); front != nil; front = g.order.Front() {
		key, _ := front.Value.(string)
		e := g.held[key]
		if now.Sub(e.acquired) < g.ttl {
			return
		}
		g.removeLocked(key, e)
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
