package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndRemove(t *testing.T) {
	m := NewManager(time.Minute)
	defer m.Stop()

	s := m.Create()
	_, ok := m.Get(s.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, m.Count())

	m.Remove(s.ID)
	_, ok = m.Get(s.ID)
	assert.False(t, ok)
}

func TestBroadcastFansOutToAllSessions(t *testing.T) {
	m := NewManager(time.Minute)
	defer m.Stop()

	a := m.Create()
	b := m.Create()

	m.Broadcast(Event{Name: "message", Data: []byte(`{"hello":true}`)})

	select {
	case ev := <-a.events:
		assert.Equal(t, "message", ev.Name)
	default:
		t.Fatal("session a received no event")
	}
	select {
	case ev := <-b.events:
		assert.Equal(t, "message", ev.Name)
	default:
		t.Fatal("session b received no event")
	}
}

func TestServeSSEWritesEndpointEventThenDisconnects(t *testing.T) {
	m := NewManager(time.Minute)
	defer m.Stop()

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.ServeSSE(rec, req, "/message")
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	wg.Wait()

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "event: endpoint"))
	assert.Equal(t, 0, m.Count())
}

func TestSessionClosesAfterIdleTimeout(t *testing.T) {
	m := NewManager(time.Minute)
	defer m.Stop()

	s := m.Create()
	s.mu.Lock()
	s.lastActivity = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()

	m.sweepIdle()

	select {
	case <-s.closeCh:
	default:
		t.Fatal("expected session to be closed after idle sweep")
	}
	_, ok := m.Get(s.ID)
	assert.False(t, ok)
}

func TestSendDoesNotBlockOnFullQueue(t *testing.T) {
	s := newSession()
	for i := 0; i < cap(s.events); i++ {
		require.True(t, s.Send(Event{Name: "x"}))
	}
	assert.False(t, s.Send(Event{Name: "overflow"}))
}
