package session

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/nirel-io/roomcast/internal/ratelimit"
	"github.com/nirel-io/roomcast/internal/room"
)

func newTestRoom(t *testing.T) *room.Room {
	t.Helper()
	reg := room.NewRegistry(100, time.Hour, zerolog.Nop())
	return reg.GetOrCreate("test")
}

func unlimitedMessageLimiter() *ratelimit.MessageLimiter {
	return ratelimit.NewMessageLimiter(1e6, 1e6)
}

func TestSessionBroadcastsPublishedMessageToPeer(t *testing.T) {
	rm := newTestRoom(t)

	serverA, clientA := net.Pipe()
	serverB, clientB := net.Pipe()

	sessA := New(1, serverA, rm, time.Second, unlimitedMessageLimiter(), zerolog.Nop())
	sessB := New(2, serverB, rm, time.Second, unlimitedMessageLimiter(), zerolog.Nop())

	doneA := make(chan struct{})
	doneB := make(chan struct{})
	go func() { sessA.Run(); close(doneA) }()
	go func() { sessB.Run(); close(doneB) }()

	// Give both sessions a moment to subscribe before A publishes.
	time.Sleep(20 * time.Millisecond)

	if err := wsutil.WriteClientMessage(clientA, ws.OpText, []byte("hi")); err != nil {
		t.Fatalf("client A write failed: %v", err)
	}

	clientB.SetReadDeadline(time.Now().Add(time.Second))
	msg, op, err := wsutil.ReadServerData(clientB)
	if err != nil {
		t.Fatalf("client B read failed: %v", err)
	}
	if op != ws.OpText || string(msg) != "hi" {
		t.Fatalf("client B received (%v, %q), want (OpText, \"hi\")", op, msg)
	}

	// The sender also receives its own echo per the hub's fan-out semantics.
	clientA.SetReadDeadline(time.Now().Add(time.Second))
	msg, _, err = wsutil.ReadServerData(clientA)
	if err != nil {
		t.Fatalf("client A read failed: %v", err)
	}
	if string(msg) != "hi" {
		t.Fatalf("client A echo = %q, want \"hi\"", msg)
	}

	clientA.Close()
	clientB.Close()

	select {
	case <-doneA:
	case <-time.After(time.Second):
		t.Fatal("session A did not terminate after socket close")
	}
	select {
	case <-doneB:
	case <-time.After(time.Second):
		t.Fatal("session B did not terminate after socket close")
	}

	if rm.ConnectionCount() != 0 {
		t.Fatalf("ConnectionCount() = %d, want 0 after both sessions exit", rm.ConnectionCount())
	}
}

func TestSessionCloseFrameTerminatesSession(t *testing.T) {
	rm := newTestRoom(t)
	serverConn, clientConn := net.Pipe()
	sess := New(1, serverConn, rm, time.Second, unlimitedMessageLimiter(), zerolog.Nop())

	done := make(chan struct{})
	go func() { sess.Run(); close(done) }()
	time.Sleep(10 * time.Millisecond)

	// The server answers a close frame with its own close frame; net.Pipe is
	// unbuffered, so the client side must be read for that reply to complete.
	go io.Copy(io.Discard, clientConn)
	wsutil.WriteClientMessage(clientConn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not terminate after receiving a close frame")
	}
}

func TestSessionHistoryReflectsPublishedMessage(t *testing.T) {
	rm := newTestRoom(t)
	serverConn, clientConn := net.Pipe()
	sess := New(1, serverConn, rm, time.Second, unlimitedMessageLimiter(), zerolog.Nop())

	done := make(chan struct{})
	go func() { sess.Run(); close(done) }()
	time.Sleep(10 * time.Millisecond)

	wsutil.WriteClientMessage(clientConn, ws.OpText, []byte("persisted"))
	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	wsutil.ReadServerData(clientConn) // drain the echo

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap := rm.History.Snapshot()
		if len(snap) == 1 && snap[0] == "persisted" {
			clientConn.Close()
			<-done
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("history never reflected the published message")
}
