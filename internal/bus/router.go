package bus

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/snapcase/pkg/models"
)

// Router is the in-process Bus: channel fanout between contexts living in
// this process. It is the default transport and the one used in tests.
type Router struct {
	mu       sync.RWMutex
	contexts map[string]chan models.Envelope
	closed   bool
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{contexts: make(map[string]chan models.Envelope)}
}

// Attach implements Bus.
func (r *Router) Attach(name string, buffer int) (<-chan models.Envelope, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan models.Envelope, buffer)

	r.mu.Lock()
	if old, ok := r.contexts[name]; ok {
		close(old)
	}
	r.contexts[name] = ch
	r.mu.Unlock()

	log.Debug().Str("context", name).Msg("Bus context attached")

	detach := func() {
		r.mu.Lock()
		if cur, ok := r.contexts[name]; ok && cur == ch {
			delete(r.contexts, name)
			close(ch)
		}
		r.mu.Unlock()
		log.Debug().Str("context", name).Msg("Bus context detached")
	}
	return ch, detach
}

// Send implements Bus. A full or absent target drops the message; the bus
// never blocks a sender.
func (r *Router) Send(to string, env models.Envelope) int {
	// The send must stay under the read lock: detach and Close close the
	// channel under the write lock, and a send racing that close panics.
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.contexts[to]
	if !ok {
		log.Debug().Str("to", to).Str("type", string(env.Type)).Msg("Bus target absent, message dropped")
		return 0
	}
	select {
	case ch <- env:
		return 1
	default:
		log.Warn().Str("to", to).Str("type", string(env.Type)).Msg("Bus target backlogged, message dropped")
		return 0
	}
}

// Broadcast implements Bus.
func (r *Router) Broadcast(env models.Envelope) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for name, ch := range r.contexts {
		if name == env.From {
			continue
		}
		select {
		case ch <- env:
			delivered++
		default:
			log.Warn().Str("to", name).Str("type", string(env.Type)).Msg("Bus target backlogged, broadcast dropped")
		}
	}
	return delivered
}

// Close implements Bus.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for name, ch := range r.contexts {
		delete(r.contexts, name)
		close(ch)
	}
	return nil
}
