package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicExplorationCreated)

	bus.Publish(Event{Topic: TopicExplorationCreated, ExplorationID: "exp-1"})

	select {
	case ev := <-ch:
		assert.Equal(t, "exp-1", ev.ExplorationID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_PublishOnlyReachesMatchingTopic(t *testing.T) {
	bus := NewBus()
	created := bus.Subscribe(TopicExplorationCreated)
	started := bus.Subscribe(TopicExplorationStarted)

	bus.Publish(Event{Topic: TopicExplorationCreated, ExplorationID: "exp-1"})

	select {
	case <-created:
	case <-time.After(time.Second):
		t.Fatal("expected event on created topic")
	}
	select {
	case ev, ok := <-started:
		if ok {
			t.Fatalf("unexpected event on started topic: %+v", ev)
		}
	default:
	}
}

func TestBus_MultipleSubscribersAllReceive(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(TopicWorktreeCompleted)
	b := bus.Subscribe(TopicWorktreeCompleted)

	bus.Publish(Event{Topic: TopicWorktreeCompleted, WorktreeIndex: 2})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, 2, ev.WorktreeIndex)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicInsightPublished)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Topic: TopicInsightPublished, WorktreeIndex: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	require.NotEmpty(t, ch)
}

func TestBus_CloseStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicDecisionResolved)
	bus.Close()

	_, ok := <-ch
	assert.False(t, ok)
}
