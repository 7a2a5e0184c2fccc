package transport

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// DefaultQueueSize bounds the frames held while disconnected.
	DefaultQueueSize = 1000

	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
	writeWait         = 5 * time.Second
	inboxSize         = 256
)

var errConnLost = errors.New("connection lost")

// SocketOptions configures a Socket.
type SocketOptions struct {
	URL string // ws:// or wss:// relay endpoint

	// QueueSize caps pending frames. When full, the oldest frame is dropped.
	QueueSize int

	// MinBackoff and MaxBackoff bound the linear reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	Dialer *websocket.Dialer
	Logger zerolog.Logger

	// OnDrop is called each time a queued frame is discarded to make room.
	OnDrop func()
}

type queued struct {
	seq   uint64
	frame []byte
}

// Socket is a WebSocket client transport. Send never blocks on the network:
// frames go into a FIFO queue that a single writer goroutine drains whenever
// a connection is up, so frames queued while disconnected are delivered in
// order, before anything sent later. The client reconnects on its own until
// closed.
//
// Received frames are handed to the handler from one dispatch goroutine, in
// arrival order. The handler may call Close.
type Socket struct {
	opts   SocketOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}
	inbox  chan []byte

	mu      sync.Mutex
	queue   []queued
	nextSeq uint64
	closed  bool

	handlerMu sync.RWMutex
	handler   Handler

	connected atomic.Bool
	dropped   atomic.Uint64
}

// DialSocket starts a client for opts.URL and returns immediately; the
// connection is established in the background.
func DialSocket(ctx context.Context, opts SocketOptions) *Socket {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = defaultMaxBackoff
		if opts.MaxBackoff < opts.MinBackoff {
			opts.MaxBackoff = opts.MinBackoff
		}
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 5 * time.Second,
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Socket{
		opts:   opts,
		log:    opts.Logger.With().Str("component", "socket").Str("url", opts.URL).Logger(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		inbox:  make(chan []byte, inboxSize),
	}
	go s.run()
	go s.dispatch()
	return s
}

// Send queues frame for delivery.
func (s *Socket) Send(frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)

	s.mu.Lock()
	if s.closed || s.ctx.Err() != nil {
		s.mu.Unlock()
		return ErrClosed
	}
	if len(s.queue) >= s.opts.QueueSize {
		s.queue[0] = queued{}
		s.queue = s.queue[1:]
		s.dropped.Add(1)
		if s.opts.OnDrop != nil {
			s.opts.OnDrop()
		}
	}
	s.nextSeq++
	s.queue = append(s.queue, queued{seq: s.nextSeq, frame: cp})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// OnMessage sets the handler for frames received from the relay.
func (s *Socket) OnMessage(h Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = h
}

// Close stops reconnecting, closes the connection and drops any frames
// still queued. It waits for the connection goroutines but not for a
// handler that is running.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}

// Connected reports whether a relay connection is currently up.
func (s *Socket) Connected() bool { return s.connected.Load() }

// Pending returns the number of queued frames.
func (s *Socket) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dropped returns how many frames were discarded because the queue was full.
func (s *Socket) Dropped() uint64 { return s.dropped.Load() }

func (s *Socket) run() {
	defer close(s.done)

	attempt := 0
	for {
		conn, _, err := s.opts.Dialer.DialContext(s.ctx, s.opts.URL, nil)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			attempt++
			delay := s.backoff(attempt)
			s.log.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("relay dial failed")
			if !sleepOrCancel(s.ctx, delay) {
				return
			}
			continue
		}
		attempt = 0

		s.connected.Store(true)
		s.log.Info().Int("pending", s.Pending()).Msg("connected to relay")

		readDone := make(chan struct{})
		go s.readLoop(conn, readDone)
		err = s.writeLoop(conn, readDone)

		s.connected.Store(false)
		_ = conn.Close()
		<-readDone

		if s.ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Msg("relay connection lost, reconnecting")
	}
}

func (s *Socket) backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * s.opts.MinBackoff
	if d > s.opts.MaxBackoff {
		d = s.opts.MaxBackoff
	}
	return d
}

// writeLoop drains the queue onto conn. A frame leaves the queue only after
// it was written, so a failed write is retried first on the next connection.
func (s *Socket) writeLoop(conn *websocket.Conn, readDone <-chan struct{}) error {
	for {
		if item, ok := s.head(); ok {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, item.frame); err != nil {
				return err
			}
			s.ack(item.seq)
			continue
		}

		select {
		case <-s.wake:
		case <-readDone:
			return errConnLost
		case <-s.ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second),
			)
			return s.ctx.Err()
		}
	}
}

func (s *Socket) head() (queued, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return queued{}, false
	}
	return s.queue[0], true
}

// ack removes the written frame, unless Send already dropped it to make room.
func (s *Socket) ack(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 && s.queue[0].seq == seq {
		s.queue[0] = queued{}
		s.queue = s.queue[1:]
	}
}

func (s *Socket) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case s.inbox <- msg:
		case <-s.ctx.Done():
			return
		}
	}
}

// dispatch delivers received frames to the handler until the socket closes.
func (s *Socket) dispatch() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			if s.ctx.Err() != nil {
				return
			}
			s.handlerMu.RLock()
			h := s.handler
			s.handlerMu.RUnlock()
			if h != nil {
				h(msg)
			}
		}
	}
}

// sleepOrCancel waits for d or until ctx is done. It returns false if the
// context was cancelled.
func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
