package store

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// NowUTC 默认使用 UTC 时间。
var NowUTC Clock = realClock{}

// Listener 快照变更回调；在 Update 的调用方 goroutine 中同步执行，
// 按版本递增顺序收到快照。回调内不得调用 Update。
type Listener func(AppState)

// Store 持有最新的不可变快照并向订阅者扇出。
// 读操作无锁；写操作串行化，保证 f(current) 基于最新快照。
type Store struct {
	current  atomic.Pointer[AppState]
	writeMu  sync.Mutex
	notifyMu sync.Mutex // 在释放 writeMu 前获取，保证通知顺序与版本一致
	clock    Clock

	listenersMu sync.RWMutex
	listeners   map[string]Listener
	order       []string
}

func New(clock Clock) *Store {
	if clock == nil {
		clock = NowUTC
	}
	s := &Store{
		clock:     clock,
		listeners: make(map[string]Listener),
	}
	initial := EmptyState()
	initial.UpdatedAt = clock.Now()
	s.current.Store(&initial)
	return s
}

// Get 返回当前快照的副本，永不阻塞。
func (s *Store) Get() AppState {
	return s.current.Load().Clone()
}

// Update 以 f(current) 原子替换快照，打上时间戳后同步通知所有订阅者。
func (s *Store) Update(f func(AppState) AppState) AppState {
	s.writeMu.Lock()
	prev := s.current.Load()
	next := f(prev.Clone())
	now := s.clock.Now()
	if now.Before(prev.UpdatedAt) {
		now = prev.UpdatedAt
	}
	next.UpdatedAt = now
	next.Version = prev.Version + 1
	s.current.Store(&next)
	s.notifyMu.Lock()
	s.writeMu.Unlock()

	defer s.notifyMu.Unlock()
	for _, l := range s.snapshotListeners() {
		l(next)
	}
	return next
}

// Listen 注册订阅者；重复注册同一 id 不生效，返回是否新增。
func (s *Store) Listen(id string, l Listener) bool {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	if _, ok := s.listeners[id]; ok {
		return false
	}
	s.listeners[id] = l
	s.order = append(s.order, id)
	return true
}

// RemoveListener 注销订阅者；未知 id 安全忽略。
func (s *Store) RemoveListener(id string) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	if _, ok := s.listeners[id]; !ok {
		return
	}
	delete(s.listeners, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
}

// ListenersCount 当前订阅者数量（健康检查用）
func (s *Store) ListenersCount() int {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	return len(s.listeners)
}

// snapshotListeners 复制回调列表后释放锁，回调内可安全增删订阅。
func (s *Store) snapshotListeners() []Listener {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	out := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.listeners[id])
	}
	return out
}
