package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/docker/docker/api/types/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvents struct {
	opts events.ListOptions
	msgs chan events.Message
	errs chan error
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{msgs: make(chan events.Message, 10), errs: make(chan error, 1)}
}

func (f *fakeEvents) Events(_ context.Context, opts events.ListOptions) (<-chan events.Message, <-chan error) {
	f.opts = opts
	return f.msgs, f.errs
}

func receive(t *testing.T, ch <-chan ContainerEvent) ContainerEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return ContainerEvent{}
	}
}

func TestWatcherProjectEvents(t *testing.T) {
	fake := newFakeEvents()
	w := NewDockerWatcher(fake, domain.ProjectScope("demo"), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := w.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.docker.compose.project=demo"}, fake.opts.Filters.Get("label"))
	assert.ElementsMatch(t, []string{"start", "stop", "die"}, fake.opts.Filters.Get("event"))

	fake.msgs <- events.Message{Type: events.ContainerEventType, Action: events.ActionPause, Actor: events.Actor{ID: "abc"}}
	fake.msgs <- events.Message{
		Type:     events.ContainerEventType,
		Action:   events.ActionStart,
		Actor:    events.Actor{ID: "abc", Attributes: map[string]string{"name": "demo-web-1"}},
		TimeNano: 42,
	}

	ev := receive(t, ch)
	assert.Equal(t, ContainerEvent{ContainerID: "abc", Name: "demo-web-1", Kind: KindStart, At: time.Unix(0, 42)}, ev)
}

func TestWatcherNetworkEvents(t *testing.T) {
	fake := newFakeEvents()
	w := NewDockerWatcher(fake, domain.NetworkScope("backend"), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := w.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"backend"}, fake.opts.Filters.Get("network"))

	fake.msgs <- events.Message{
		Type:   events.NetworkEventType,
		Action: events.ActionDisconnect,
		Actor:  events.Actor{ID: "net123", Attributes: map[string]string{"container": "abc", "name": "backend"}},
	}
	ev := receive(t, ch)
	assert.Equal(t, "abc", ev.ContainerID)
	assert.Equal(t, KindDisconnect, ev.Kind)
}

func TestWatcherClosesOnStreamError(t *testing.T) {
	fake := newFakeEvents()
	w := NewDockerWatcher(fake, domain.ProjectScope("demo"), zerolog.Nop())

	ch, err := w.Subscribe(context.Background())
	require.NoError(t, err)
	fake.errs <- errors.New("unexpected EOF")

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
