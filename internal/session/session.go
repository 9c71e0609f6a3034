// Package session bridges one upgraded WebSocket connection to a Room: a
// send-loop that drains the room's broadcast hub onto the socket and a
// receive-loop that reads client frames and publishes them back into the
// room, grounded on the cooperative send/receive task pairing the socket
// protocol is built around.
package session

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/nirel-io/roomcast/internal/monitoring"
	"github.com/nirel-io/roomcast/internal/ratelimit"
	"github.com/nirel-io/roomcast/internal/room"
)

// State is the session lifecycle: Connecting -> Running -> Draining ->
// Closed. Only Running permits a received text frame to be published;
// Draining silently drops it instead.
type State int32

const (
	StateConnecting State = iota
	StateRunning
	StateDraining
	StateClosed
)

// Session owns one upgraded socket and the two cooperative loops that
// bridge it to a Room. It is ephemeral: created on upgrade, discarded when
// Run returns.
type Session struct {
	id          uint64
	conn        net.Conn
	rm          *room.Room
	cursor      *room.Cursor
	sendTimeout time.Duration
	msgLimiter  *ratelimit.MessageLimiter
	logger      zerolog.Logger

	state    atomic.Int32
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates a session for an already-upgraded connection. Run must be
// called to actually join the room and start the loops.
func New(id uint64, conn net.Conn, rm *room.Room, sendTimeout time.Duration, msgLimiter *ratelimit.MessageLimiter, logger zerolog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:          id,
		conn:        conn,
		rm:          rm,
		sendTimeout: sendTimeout,
		msgLimiter:  msgLimiter,
		logger:      logger.With().Uint64("session_id", id).Str("room", rm.Name()).Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run joins the room, spawns the send and receive loops, and blocks until
// both have terminated. It never returns until the socket has been
// released and the room's connection count has been decremented, so the
// caller can treat Run's return as "this connection is fully gone".
func (s *Session) Run() {
	s.state.Store(int32(StateConnecting))
	s.rm.IncrementConnections()
	s.cursor = s.rm.Hub.Subscribe()
	s.state.Store(int32(StateRunning))

	var wg sync.WaitGroup
	wg.Add(2)
	go s.sendLoop(&wg)
	go s.recvLoop(&wg)
	wg.Wait()

	s.state.Store(int32(StateClosed))
	s.rm.Hub.Unsubscribe(s.cursor)
	s.rm.DecrementAndCheck()
}

// Close terminates the session from the outside (e.g. server shutdown),
// unblocking both loops the same way a socket error would. Safe to call
// concurrently with Run and more than once.
func (s *Session) Close() {
	s.stop()
}

// stop signals both loops to terminate and closes the socket so a loop
// blocked in a read unblocks with an error. Idempotent.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.state.Store(int32(StateDraining))
		s.cancel()
		s.conn.Close()
	})
}

func (s *Session) sendLoop(wg *sync.WaitGroup) {
	defer wg.Done()
	defer s.stop()
	defer func() {
		if r := recover(); r != nil {
			monitoring.LogPanic(s.logger, r, "session send loop panicked", nil)
		}
	}()

	for {
		ev := s.cursor.Next(s.ctx)
		switch ev.Kind {
		case room.EventClosed:
			return
		case room.EventLagged:
			// Per the hub contract, a lag notification is informational
			// only; the cursor has already resumed from the tail.
			monitoring.SubscriberLagEventsTotal.Inc()
			continue
		case room.EventMessage:
			s.conn.SetWriteDeadline(time.Now().Add(s.sendTimeout))
			if err := wsutil.WriteServerMessage(s.conn, ws.OpText, []byte(ev.Message)); err != nil {
				return
			}
			monitoring.MessagesDeliveredTotal.Inc()
		}
	}
}

func (s *Session) recvLoop(wg *sync.WaitGroup) {
	defer wg.Done()
	defer s.stop()
	defer func() {
		if r := recover(); r != nil {
			monitoring.LogPanic(s.logger, r, "session receive loop panicked", nil)
		}
	}()

	for {
		msg, op, err := wsutil.ReadClientData(s.conn)
		if err != nil {
			return
		}

		switch op {
		case ws.OpText:
			if s.msgLimiter != nil && !s.msgLimiter.Allow() {
				monitoring.RateLimitedTotal.WithLabelValues("message").Inc()
				continue
			}
			if State(s.state.Load()) != StateRunning {
				// Draining: this session no longer publishes.
				continue
			}
			s.rm.Publish(string(msg))
		case ws.OpClose:
			return
		default:
			// Binary, ping, and pong frames never reach the room; ping/pong
			// are answered transparently by the socket layer.
		}
	}
}
