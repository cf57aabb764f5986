package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStore_ConcurrentUpdates 并发写入后版本号连续且无丢失
func TestStore_ConcurrentUpdates(t *testing.T) {
	st := New(nil)

	var wg sync.WaitGroup
	writers, perWriter := 5, 100
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				st.Update(func(s AppState) AppState { return s })
			}
		}()
	}

	// 并发读取
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_ = st.Get()
				_ = st.ListenersCount()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(writers*perWriter), st.Get().Version)
}

// TestStore_ListenersSeeVersionsInOrder 并发写入时订阅者按版本递增收到快照
func TestStore_ListenersSeeVersionsInOrder(t *testing.T) {
	st := New(nil)
	var mu sync.Mutex
	var seen []uint64
	st.Listen("ordered", func(s AppState) {
		mu.Lock()
		seen = append(seen, s.Version)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	writers, perWriter := 8, 200
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				st.Update(func(s AppState) AppState { return s })
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, writers*perWriter)
	for i, v := range seen {
		require.Equal(t, uint64(i+1), v, "delivery %d out of order", i)
	}
}

// TestStore_ConcurrentListenerChurn 通知过程中并发增删订阅者
func TestStore_ConcurrentListenerChurn(t *testing.T) {
	st := New(nil)
	var delivered atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("%d-%d", worker, j)
				st.Listen(id, func(AppState) { delivered.Add(1) })
				st.RemoveListener(id)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			st.Update(func(s AppState) AppState { return s })
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, st.ListenersCount())
	assert.GreaterOrEqual(t, delivered.Load(), int64(0))
}

// TestSubscribe_SlowConsumerDoesNotBlockPublisher 慢订阅者不阻塞发布方，只拿到最新快照
func TestSubscribe_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	st := New(nil)
	ch, cancel := st.Subscribe(context.Background(), "slow", 20*time.Millisecond)
	defer cancel()

	first := <-ch
	assert.Equal(t, uint64(0), first.Version)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			st.Update(func(s AppState) AppState { return s })
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked by subscriber")
	}

	var last AppState
	deadline := time.After(2 * time.Second)
	for last.Version != 1000 {
		select {
		case last = <-ch:
		case <-deadline:
			t.Fatalf("latest snapshot never delivered, last version %d", last.Version)
		}
	}
}

// TestSubscribe_RateLimited 推送间隔不小于 minInterval，且版本单调递增
func TestSubscribe_RateLimited(t *testing.T) {
	st := New(nil)
	interval := 50 * time.Millisecond
	ch, cancel := st.Subscribe(context.Background(), "paced", interval)
	defer cancel()

	<-ch // 初始快照

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				st.Update(func(s AppState) AppState { return s })
				time.Sleep(time.Millisecond)
			}
		}
	}()
	defer close(stop)

	var prevAt time.Time
	var prevVersion uint64
	for i := 0; i < 4; i++ {
		s := <-ch
		now := time.Now()
		if !prevAt.IsZero() {
			assert.GreaterOrEqual(t, now.Sub(prevAt), interval-5*time.Millisecond)
		}
		assert.Greater(t, s.Version, prevVersion)
		prevAt, prevVersion = now, s.Version
	}
}

// TestSubscribe_CancelRemovesListener 取消后注销并关闭通道
func TestSubscribe_CancelRemovesListener(t *testing.T) {
	st := New(nil)
	ch, cancel := st.Subscribe(context.Background(), "c", time.Millisecond)
	<-ch
	require.Equal(t, 1, st.ListenersCount())

	cancel()
	for range ch {
	}
	assert.Eventually(t, func() bool { return st.ListenersCount() == 0 }, time.Second, 5*time.Millisecond)

	dupCh, dupCancel := st.Subscribe(context.Background(), "d", time.Millisecond)
	defer dupCancel()
	again, _ := st.Subscribe(context.Background(), "d", time.Millisecond)
	_, open := <-again
	assert.False(t, open, "duplicate id yields a closed stream")
	<-dupCh
}

// TestSubscribe_NoDuplicateVersions 同一版本不会推送两次
func TestSubscribe_NoDuplicateVersions(t *testing.T) {
	st := New(nil)
	ch, cancel := st.Subscribe(context.Background(), "dedupe", time.Millisecond)
	defer cancel()

	<-ch
	st.Update(func(s AppState) AppState { return s })
	got := <-ch
	assert.Equal(t, uint64(1), got.Version)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected push of version %d", extra.Version)
	case <-time.After(30 * time.Millisecond):
	}
}
