package relay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishWithoutSubscriberIsNoop(t *testing.T) {
	r := New()
	// 不应 panic、不应阻塞
	r.Publish("run-1", EventRunning, map[string]interface{}{"step_id": "step-1"})
	assert.Equal(t, 0, r.SubscriberCount())
}

func TestPublishSubscribeOrdering(t *testing.T) {
	r := New()
	ch := r.Subscribe("run-1")

	r.Publish("run-1", EventRunning, map[string]interface{}{"step_id": "step-1"})
	r.Publish("run-1", EventComplete, map[string]interface{}{"step_id": "step-1"})
	r.Publish("run-1", EventComplete, map[string]interface{}{"run_id": "run-1", "all_done": true})

	e1 := <-ch
	e2 := <-ch
	e3 := <-ch
	assert.Equal(t, EventRunning, e1.Type)
	assert.Equal(t, EventComplete, e2.Type)
	assert.Equal(t, EventComplete, e3.Type)
	assert.Equal(t, true, e3.Payload["all_done"])
}

func TestRunsAreIsolated(t *testing.T) {
	r := New()
	ch1 := r.Subscribe("run-1")
	ch2 := r.Subscribe("run-2")

	r.Publish("run-1", EventRunning, nil)

	require.Len(t, ch1, 1)
	assert.Len(t, ch2, 0)
}

func TestQueueFullDropsEvent(t *testing.T) {
	r := NewWithCapacity(2)
	ch := r.Subscribe("run-1")

	r.Publish("run-1", EventRunning, map[string]interface{}{"n": 1})
	r.Publish("run-1", EventRunning, map[string]interface{}{"n": 2})
	// 第三条溢出被丢弃，Publish 不阻塞
	r.Publish("run-1", EventRunning, map[string]interface{}{"n": 3})

	assert.Len(t, ch, 2)
	e := <-ch
	assert.Equal(t, 1, e.Payload["n"])
}

func TestUnsubscribeClosesQueue(t *testing.T) {
	r := New()
	ch := r.Subscribe("run-1")
	r.Unsubscribe("run-1")

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, r.SubscriberCount())

	// 取消后发布退化为 no-op
	r.Publish("run-1", EventRunning, nil)
}

// 发布与取消订阅并发时不得 panic（客户端断开不能影响编排器）。
// 需配合 -race 运行。
func TestPublishConcurrentWithUnsubscribe(t *testing.T) {
	r := New()

	for i := 0; i < 200; i++ {
		runID := "run-1"
		r.Subscribe(runID)

		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Publish(runID, EventRunning, map[string]interface{}{"n": 1})
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Unsubscribe(runID)
		}()
		wg.Wait()
	}

	assert.Equal(t, 0, r.SubscriberCount())
}

func TestResubscribeReturnsSameQueue(t *testing.T) {
	r := New()
	ch1 := r.Subscribe("run-1")
	ch2 := r.Subscribe("run-1")
	assert.Equal(t, 1, r.SubscriberCount())

	r.Publish("run-1", EventRunning, nil)
	require.Len(t, ch1, 1)
	assert.Len(t, ch2, 1) // 同一队列
}
