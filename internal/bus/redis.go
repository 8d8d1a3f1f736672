package bus

import (
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/snapcase/pkg/models"
)

const (
	channelPrefix    = "snapcase.ctx."
	broadcastChannel = "snapcase.broadcast"
)

// RedisBus is the redis pub/sub Bus, for UI surfaces and overlays running in
// other processes. Pub/sub carries the same semantics as the router: no
// subscriber means the publish is silently lost, which is exactly the
// best-effort contract the coordinator compensates for with the store.
type RedisBus struct {
	pool *redis.Pool

	mu      sync.Mutex
	detach  map[string]func()
	closed  bool
}

// NewRedisBus connects a pub/sub bus to the given redis address.
func NewRedisBus(addr string) (*RedisBus, error) {
	pool := &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr,
				redis.DialConnectTimeout(5*time.Second),
				redis.DialReadTimeout(0),
				redis.DialWriteTimeout(5*time.Second),
			)
		},
	}

	conn := pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{pool: pool, detach: make(map[string]func())}, nil
}

// Attach implements Bus. The returned channel receives both point-to-point
// messages for name and broadcasts from other contexts.
func (b *RedisBus) Attach(name string, buffer int) (<-chan models.Envelope, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	out := make(chan models.Envelope, buffer)
	done := make(chan struct{})

	conn := b.pool.Get()
	psc := redis.PubSubConn{Conn: conn}
	if err := psc.Subscribe(channelPrefix+name, broadcastChannel); err != nil {
		log.Error().Err(err).Str("context", name).Msg("Redis subscribe failed")
		close(out)
		return out, func() {}
	}

	go func() {
		defer close(out)
		defer conn.Close()
		for {
			switch v := psc.Receive().(type) {
			case redis.Message:
				var env models.Envelope
				if err := json.Unmarshal(v.Data, &env); err != nil {
					log.Warn().Err(err).Str("channel", v.Channel).Msg("Malformed bus message dropped")
					continue
				}
				if v.Channel == broadcastChannel && env.From == name {
					continue
				}
				select {
				case out <- env:
				default:
					log.Warn().Str("context", name).Str("type", string(env.Type)).Msg("Bus context backlogged, message dropped")
				}
			case error:
				select {
				case <-done:
					// Detached; the unsubscribe error is expected.
				default:
					log.Error().Err(v).Str("context", name).Msg("Redis bus receive error")
				}
				return
			}
		}
	}()

	detach := func() {
		close(done)
		_ = psc.Unsubscribe()
	}

	b.mu.Lock()
	if old, ok := b.detach[name]; ok {
		old()
	}
	b.detach[name] = detach
	b.mu.Unlock()

	return out, detach
}

func (b *RedisBus) publish(channel string, env models.Envelope) int {
	payload, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("type", string(env.Type)).Msg("Failed to encode bus message")
		return 0
	}
	conn := b.pool.Get()
	defer conn.Close()
	n, err := redis.Int(conn.Do("PUBLISH", channel, payload))
	if err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("Bus publish failed, message dropped")
		return 0
	}
	return n
}

// Send implements Bus. The receiver count comes straight from PUBLISH.
func (b *RedisBus) Send(to string, env models.Envelope) int {
	return b.publish(channelPrefix+to, env)
}

// Broadcast implements Bus.
func (b *RedisBus) Broadcast(env models.Envelope) int {
	return b.publish(broadcastChannel, env)
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	detachers := make([]func(), 0, len(b.detach))
	for _, d := range b.detach {
		detachers = append(detachers, d)
	}
	b.detach = make(map[string]func())
	b.mu.Unlock()

	for _, d := range detachers {
		d()
	}
	return b.pool.Close()
}
