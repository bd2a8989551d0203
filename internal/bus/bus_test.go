package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToTypedSubscriber(t *testing.T) {
	b := New(16, nil)

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{})
	b.Subscribe("task.completed", func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		close(done)
	})

	b.Publish("task.completed", map[string]any{"task_id": "t1"})
	<-done
	b.Close()

	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].Payload["task_id"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestWildcardReceivesEverything(t *testing.T) {
	b := New(16, nil)

	var mu sync.Mutex
	count := 0
	b.Subscribe(Wildcard, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Publish("a", nil)
	b.Publish("b", nil)
	b.Publish("c", nil)
	b.Close() // drains the queue

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, count)
}

func TestPublishSyncIsOrdered(t *testing.T) {
	b := New(1, nil)
	defer b.Close()

	var seen []string
	b.Subscribe("ev", func(ev Event) {
		seen = append(seen, ev.Payload["n"].(string))
	})

	b.PublishSync("ev", map[string]any{"n": "1"})
	b.PublishSync("ev", map[string]any{"n": "2"})
	b.PublishSync("ev", map[string]any{"n": "3"})

	assert.Equal(t, []string{"1", "2", "3"}, seen)
}

func TestSubscriberPanicIsSwallowed(t *testing.T) {
	b := New(4, nil)
	defer b.Close()

	fired := false
	b.Subscribe("ev", func(Event) { panic("boom") })
	b.Subscribe("ev", func(Event) { fired = true })

	assert.NotPanics(t, func() { b.PublishSync("ev", nil) })
	assert.True(t, fired, "second subscriber still runs after a panic")
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	b := New(4, nil)
	b.Close()
	assert.NotPanics(t, func() { b.Publish("ev", nil) })
}

// A publisher racing Close must either enqueue before the queue closes or
// be dropped, never panic on a closed channel.
func TestConcurrentPublishDuringClose(t *testing.T) {
	b := New(4, nil)
	b.Subscribe(Wildcard, func(Event) {})

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 200; j++ {
				b.Publish("ev", nil)
			}
		}()
	}
	close(start)
	b.Close()
	wg.Wait()

	assert.NotPanics(t, func() { b.Close() }, "Close is idempotent")
}
