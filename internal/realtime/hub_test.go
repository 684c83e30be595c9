package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/learningequality/studio-sub002/internal/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func recvMessage(t *testing.T, ch <-chan OutboundMessage, timeout time.Duration) OutboundMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for message")
	}
	return OutboundMessage{}
}

func TestHubBroadcastOrderingAndReconnect(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	channelID := uuid.New()
	scope := ChannelScope(channelID)

	clientA := hub.NewClient(uuid.New())
	hub.Subscribe(clientA, scope)

	from := uuid.New()
	hub.Broadcast(scope, from, OutboundMessage{Type: MessageTypeChanges, ServerRevs: []int64{1}})
	hub.Broadcast(scope, from, OutboundMessage{Type: MessageTypeChanges, ServerRevs: []int64{2}})

	first := recvMessage(t, clientA.Outbound, time.Second)
	second := recvMessage(t, clientA.Outbound, time.Second)
	if first.ServerRevs[0] != 1 || second.ServerRevs[0] != 2 {
		t.Fatalf("broadcast order lost: %v then %v", first.ServerRevs, second.ServerRevs)
	}

	hub.CloseClient(clientA)
	select {
	case _, ok := <-clientA.Outbound:
		if ok {
			t.Fatal("outbound should be closed after disconnect")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}

	clientB := hub.NewClient(uuid.New())
	hub.Subscribe(clientB, scope)
	hub.Broadcast(scope, from, OutboundMessage{Type: MessageTypeChanges, ServerRevs: []int64{3}})
	if got := recvMessage(t, clientB.Outbound, time.Second); got.ServerRevs[0] != 3 {
		t.Fatalf("reconnected client missed broadcast: %v", got.ServerRevs)
	}
}

func TestHubBroadcastSkipsOriginator(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	scope := ChannelScope(uuid.New())

	origin := hub.NewClient(uuid.New())
	other := hub.NewClient(uuid.New())
	hub.Subscribe(origin, scope)
	hub.Subscribe(other, scope)

	hub.Broadcast(scope, origin.ID, OutboundMessage{Type: MessageTypeChanges, ServerRevs: []int64{7}})
	if got := recvMessage(t, other.Outbound, time.Second); got.ServerRevs[0] != 7 {
		t.Fatalf("subscriber missed broadcast: %v", got.ServerRevs)
	}
	select {
	case msg := <-origin.Outbound:
		t.Fatalf("originator received its own broadcast: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubSlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	scope := UserScope(uuid.New())

	slow := hub.NewClient(uuid.New())
	hub.Subscribe(slow, scope)
	from := uuid.New()
	// Overfill the outbound buffer; extra frames drop instead of blocking.
	for i := 0; i < cap(slow.Outbound)+10; i++ {
		hub.Broadcast(scope, from, OutboundMessage{Type: MessageTypeChanges, ServerRevs: []int64{int64(i)}})
	}
	if got := recvMessage(t, slow.Outbound, time.Second); got.ServerRevs[0] != 0 {
		t.Fatalf("first buffered frame = %v, want rev 0", got.ServerRevs)
	}
}
