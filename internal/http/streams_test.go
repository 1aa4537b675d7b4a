package http

import (
	"context"
	"encoding/json"
	gosync "sync"
	"testing"
	"time"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/events"
	"github.com/flurbudurbur/localsync/internal/logger"
	"github.com/flurbudurbur/localsync/internal/status"

	"github.com/asaskevich/EventBus"
	"github.com/r3labs/sse/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedEvent struct {
	stream string
	data   []byte
}

type ssePublisherStub struct {
	mu     gosync.Mutex
	events []publishedEvent
}

func (p *ssePublisherStub) Publish(id string, event *sse.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{stream: id, data: event.Data})
}

func (p *ssePublisherStub) stream(id string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out [][]byte
	for _, e := range p.events {
		if e.stream == id {
			out = append(out, e.data)
		}
	}
	return out
}

func TestStreamRelay_Status(t *testing.T) {
	pub := &ssePublisherStub{}
	st := status.NewService(logger.Mock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewStreamRelay(logger.Mock(), pub, st, nil, nil).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(pub.stream(StatusStream)) == 1 }, time.Second, 5*time.Millisecond)

	st.Connecting()
	st.Connected()

	require.Eventually(t, func() bool { return len(pub.stream(StatusStream)) == 3 }, time.Second, 5*time.Millisecond)

	var last statusResponse
	got := pub.stream(StatusStream)
	require.NoError(t, json.Unmarshal(got[2], &last))
	assert.True(t, last.Connected)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestStreamRelay_Tables(t *testing.T) {
	pub := &ssePublisherStub{}
	bus := EventBus.New()
	dispatcher, err := events.NewDispatcher(logger.Mock(), bus)
	require.NoError(t, err)
	defer dispatcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewStreamRelay(logger.Mock(), pub, status.NewService(logger.Mock(), nil), dispatcher, []string{"todos"}).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return dispatcher.Len() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(domain.EventTablesUpdated, &domain.TableUpdateEvent{Tables: domain.NewChangeSet("lists")})
	bus.Publish(domain.EventTablesUpdated, &domain.TableUpdateEvent{Tables: domain.NewChangeSet("todos", "ps_crud")})
	dispatcher.Wait()

	got := pub.stream(TablesStream)
	require.Len(t, got, 1)
	assert.JSONEq(t, `["ps_crud","todos"]`, string(got[0]))

	cancel()
	<-done
	assert.Zero(t, dispatcher.Len())
}
