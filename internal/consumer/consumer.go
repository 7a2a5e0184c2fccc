// Package consumer aggregates events arriving over a transport into four
// ordered buckets (log, info, warn, error) for a viewer to render.
package consumer

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/large-farva/pikka-console/internal/observability"
	"github.com/large-farva/pikka-console/internal/telemetry"
	"github.com/large-farva/pikka-console/internal/transport"
)

// Snapshot is a point-in-time copy of the buckets. Each bucket is in
// arrival order.
type Snapshot struct {
	Log   []telemetry.ConsoleEvent `json:"log"`
	Info  []telemetry.ConsoleEvent `json:"info"`
	Warn  []telemetry.ConsoleEvent `json:"warn"`
	Error []telemetry.ErrorEvent   `json:"error"`
}

// Len returns the total number of entries.
func (s Snapshot) Len() int {
	return len(s.Log) + len(s.Info) + len(s.Warn) + len(s.Error)
}

// Bucket returns the console bucket for level. Error is not a console bucket
// and yields nil.
func (s Snapshot) Bucket(level telemetry.Level) []telemetry.ConsoleEvent {
	switch level {
	case telemetry.LevelLog:
		return s.Log
	case telemetry.LevelInfo:
		return s.Info
	case telemetry.LevelWarn:
		return s.Warn
	}
	return nil
}

// Option configures a Consumer.
type Option func(*Consumer)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Consumer) { c.log = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

// WithDedup drops an event when one with the same kind, level or name,
// message and page URL is currently stored. An entry evicted by the bucket
// limit, or removed by Clear, no longer suppresses its repeats.
func WithDedup() Option {
	return func(c *Consumer) { c.seen = make(map[entryKey]struct{}) }
}

// WithBucketLimit caps each bucket at n entries, discarding the oldest.
// Zero or less means unbounded.
func WithBucketLimit(n int) Option {
	return func(c *Consumer) { c.limit = n }
}

// Consumer listens on a transport and keeps the aggregated state.
type Consumer struct {
	tr      transport.Transport
	log     zerolog.Logger
	metrics *observability.Metrics
	limit   int

	mu       sync.Mutex
	state    Snapshot
	seen     map[entryKey]struct{}
	onUpdate func()

	cleanup sync.Once
}

// New attaches a consumer to tr. The state starts empty.
func New(tr transport.Transport, opts ...Option) *Consumer {
	c := &Consumer{tr: tr, log: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With().Str("component", "consumer").Logger()
	tr.OnMessage(c.handle)
	return c
}

// Snapshot returns a copy of the buckets. Mutating it does not affect the
// consumer.
func (c *Consumer) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Log:   slices.Clone(c.state.Log),
		Info:  slices.Clone(c.state.Info),
		Warn:  slices.Clone(c.state.Warn),
		Error: slices.Clone(c.state.Error),
	}
}

// OnUpdate registers fn to run after every stored event, replacing any
// previous callback. A nil fn removes it.
func (c *Consumer) OnUpdate(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = fn
}

// Clear empties every bucket and forgets what dedup has seen, then runs
// the update callback.
func (c *Consumer) Clear() {
	c.mu.Lock()
	c.state = Snapshot{}
	if c.seen != nil {
		c.seen = make(map[entryKey]struct{})
	}
	fn := c.onUpdate
	c.mu.Unlock()

	c.log.Debug().Msg("state cleared")
	if fn != nil {
		fn()
	}
}

// CleanUp detaches from the transport and closes it. It is idempotent.
func (c *Consumer) CleanUp() {
	c.cleanup.Do(func() {
		c.tr.OnMessage(nil)
		if err := c.tr.Close(); err != nil {
			c.log.Debug().Err(err).Msg("transport close")
		}
	})
}

func (c *Consumer) handle(frame []byte) {
	msg, err := telemetry.Decode(frame)
	if err != nil {
		c.metrics.Malformed()
		c.log.Debug().Err(err).Int("bytes", len(frame)).Msg("dropping frame")
		return
	}

	c.mu.Lock()
	bucket, stored := c.store(msg)
	fn := c.onUpdate
	c.mu.Unlock()

	if !stored {
		return
	}
	c.metrics.ConsumerEntry(bucket)
	if fn != nil {
		fn()
	}
}

// store appends msg to its bucket. The caller holds c.mu.
func (c *Consumer) store(msg telemetry.Message) (bucket string, stored bool) {
	var key entryKey
	switch msg.Kind {
	case telemetry.KindError:
		key = errorKey(*msg.Error)
	case telemetry.KindConsole:
		if !msg.Console.Level.Valid() || msg.Console.Level == telemetry.LevelError {
			return "", false
		}
		key = consoleKey(*msg.Console)
	default:
		return "", false
	}
	if c.seen != nil {
		if _, dup := c.seen[key]; dup {
			return "", false
		}
		c.seen[key] = struct{}{}
	}

	if msg.Kind == telemetry.KindError {
		var evicted []telemetry.ErrorEvent
		c.state.Error, evicted = appendCapped(c.state.Error, *msg.Error, c.limit)
		for _, ev := range evicted {
			c.forget(errorKey(ev))
		}
		return string(telemetry.LevelError), true
	}

	ev := *msg.Console
	var evicted []telemetry.ConsoleEvent
	switch ev.Level {
	case telemetry.LevelLog:
		c.state.Log, evicted = appendCapped(c.state.Log, ev, c.limit)
	case telemetry.LevelInfo:
		c.state.Info, evicted = appendCapped(c.state.Info, ev, c.limit)
	case telemetry.LevelWarn:
		c.state.Warn, evicted = appendCapped(c.state.Warn, ev, c.limit)
	}
	for _, old := range evicted {
		c.forget(consoleKey(old))
	}
	return string(ev.Level), true
}

func (c *Consumer) forget(key entryKey) {
	if c.seen != nil {
		delete(c.seen, key)
	}
}

// entryKey identifies an entry for deduplication. Label is the console
// level or the error name.
type entryKey struct {
	kind    telemetry.Kind
	label   string
	message string
	url     string
}

func consoleKey(ev telemetry.ConsoleEvent) entryKey {
	return entryKey{telemetry.KindConsole, string(ev.Level), ev.Message, ev.Source.URL}
}

func errorKey(ev telemetry.ErrorEvent) entryKey {
	return entryKey{telemetry.KindError, ev.Name, ev.Message, ev.Source.URL}
}

// appendCapped appends v and, past limit, removes the oldest entries. The
// removed entries are returned.
func appendCapped[T any](s []T, v T, limit int) ([]T, []T) {
	s = append(s, v)
	if limit <= 0 || len(s) <= limit {
		return s, nil
	}
	n := len(s) - limit
	evicted := slices.Clone(s[:n])
	clear(s[:n])
	return s[n:], evicted
}
