package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"kinechat/internal/models"
	"kinechat/internal/redis"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterReplacesPreviousConnection(t *testing.T) {
	reg := NewRegistry()
	first := NewConnection("sess-1", 1)
	second := NewConnection("sess-1", 1)

	assert.False(t, reg.Register("sess-1", first))
	assert.True(t, reg.Register("sess-1", second))

	got, ok := reg.Lookup("sess-1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, models.StateDisconnected, first.State())
	assert.ErrorIs(t, first.Send(models.Event{}), ErrConnectionClosed)
	assert.Equal(t, 1, reg.Count())
}

func TestReleaseOnlyRemovesOwnConnection(t *testing.T) {
	reg := NewRegistry()
	old := NewConnection("s", 1)
	cur := NewConnection("s", 1)
	reg.Register("s", old)
	reg.Register("s", cur)

	assert.False(t, reg.Release("s", old), "superseded stream must not evict its replacement")
	_, ok := reg.Lookup("s")
	assert.True(t, ok)

	assert.True(t, reg.Release("s", cur))
	_, ok = reg.Lookup("s")
	assert.False(t, ok)
}

func TestUnregisterAndCloseAll(t *testing.T) {
	reg := NewRegistry()
	a := NewConnection("a", 1)
	b := NewConnection("b", 1)
	reg.Register("a", a)
	reg.Register("b", b)

	reg.Unregister("a")
	reg.Unregister("missing")
	_, ok := reg.Lookup("a")
	assert.False(t, ok)
	assert.Equal(t, models.StateDisconnected, a.State())

	reg.CloseAll()
	assert.Zero(t, reg.Count())
	select {
	case <-b.Done():
	default:
		t.Fatal("expected CloseAll to close b")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i%10)
			conn := NewConnection(id, 1)
			reg.Register(id, conn)
			reg.Lookup(id)
			if i%3 == 0 {
				reg.Release(id, conn)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, reg.Count(), 10)
}

func TestConnectionSendAndState(t *testing.T) {
	conn := NewConnection("s", 1)
	assert.Equal(t, models.StateConnecting, conn.State())
	conn.MarkConnected()
	assert.Equal(t, models.StateConnected, conn.State())

	require.NoError(t, conn.Send(models.Event{Type: "message"}))
	assert.ErrorIs(t, conn.Send(models.Event{Type: "message"}), ErrSlowConsumer)

	conn.Close()
	conn.Close()
	assert.ErrorIs(t, conn.Send(models.Event{}), ErrConnectionClosed)
	conn.MarkConnected()
	assert.Equal(t, models.StateDisconnected, conn.State())
}

func TestDeliverWithoutConnection(t *testing.T) {
	reg := NewRegistry()
	relay := NewRelay(reg)

	delivered, err := relay.Deliver(context.Background(), "nobody", models.RelayPayload{Text: "hola"})
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Zero(t, reg.Count())
}

func TestDeliverPushesOneEvent(t *testing.T) {
	reg := NewRegistry()
	relay := NewRelay(reg)
	conn := NewConnection("sess-1", 4)
	reg.Register("sess-1", conn)

	delivered, err := relay.Deliver(context.Background(), "sess-1", models.RelayPayload{Text: "hola"})
	require.NoError(t, err)
	assert.True(t, delivered)

	select {
	case ev := <-conn.Events():
		assert.Equal(t, models.EventMessage, ev.Type)
		assert.Equal(t, "sess-1", ev.SessionID)
		assert.Equal(t, "hola", ev.Payload.(models.RelayPayload).Text)
		assert.False(t, ev.Timestamp.IsZero())
	default:
		t.Fatal("expected an event to be queued before Deliver returned")
	}
	select {
	case ev := <-conn.Events():
		t.Fatalf("unexpected second event %+v", ev)
	default:
	}
}

func TestDeliverToClosedConnectionReleasesSession(t *testing.T) {
	reg := NewRegistry()
	relay := NewRelay(reg)
	conn := NewConnection("sess-1", 1)
	reg.Register("sess-1", conn)
	conn.Close()

	delivered, err := relay.Deliver(context.Background(), "sess-1", "hola")
	require.ErrorIs(t, err, models.ErrDeliveryFailed)
	assert.False(t, delivered)
	_, ok := reg.Lookup("sess-1")
	assert.False(t, ok)
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, sessionID string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, sessionID)
	return p.err
}

func TestDeliverMissPublishesToBridge(t *testing.T) {
	reg := NewRegistry()
	relay := NewRelay(reg)
	pub := &recordingPublisher{err: errors.New("redis down")}
	relay.UseBridge(pub)

	delivered, err := relay.Deliver(context.Background(), "elsewhere", "hola")
	require.NoError(t, err, "bridge failures are logged only")
	assert.False(t, delivered)
	assert.Equal(t, []string{"elsewhere"}, pub.calls)

	conn := NewConnection("here", 1)
	reg.Register("here", conn)
	delivered, err = relay.Deliver(context.Background(), "here", "hola")
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Len(t, pub.calls, 1, "local hits are not published")
}

func TestBridgeDeliversAcrossInstances(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis test")
	}
	client, err := redis.Connect(context.Background(), &goredis.Options{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	channel := fmt.Sprintf("kinechat:test:relay:%d", time.Now().UnixNano())

	// instance A has no streams; instance B holds sess-x
	relayA := NewRelay(NewRegistry())
	bridgeA := NewBridge(client, channel, relayA)
	relayA.UseBridge(bridgeA)

	regB := NewRegistry()
	relayB := NewRelay(regB)
	bridgeB := NewBridge(client, channel, relayB)
	conn := NewConnection("sess-x", 4)
	regB.Register("sess-x", conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridgeB.Run(ctx)

	// wait for the subscription before publishing
	require.Eventually(t, func() bool {
		n, err := client.Raw().PubSubNumSub(ctx, channel).Result()
		return err == nil && n[channel] > 0
	}, 2*time.Second, 20*time.Millisecond)

	delivered, err := relayA.Deliver(ctx, "sess-x", models.RelayPayload{Text: "hola"})
	require.NoError(t, err)
	assert.False(t, delivered)

	select {
	case ev := <-conn.Events():
		assert.Equal(t, models.RelayPayload{Text: "hola"}, ev.Payload)
		assert.Equal(t, "hola", ev.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not deliver")
	}
}
