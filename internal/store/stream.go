package store

import (
	"context"
	"time"
)

// DefaultPushInterval 每个订阅者两次推送之间的最小间隔
const DefaultPushInterval = 500 * time.Millisecond

// Subscribe 基于 Listen 建立推送流：
// 相同版本不重复推送；待推送缓冲深度为 1，满时丢弃旧快照；两次推送至少间隔 minInterval。
// 发布方永不因慢订阅者阻塞。返回的 cancel 注销订阅并关闭通道。
func (s *Store) Subscribe(ctx context.Context, id string, minInterval time.Duration) (<-chan AppState, func()) {
	if minInterval <= 0 {
		minInterval = DefaultPushInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	pending := make(chan AppState, 1)
	out := make(chan AppState)

	if !s.Listen(id, func(st AppState) { offerLatest(pending, st) }) {
		cancel()
		close(out)
		return out, func() {}
	}
	offerLatest(pending, s.Get())

	go func() {
		defer close(out)
		defer s.RemoveListener(id)

		var lastVersion uint64
		var lastPush time.Time
		sent := false
		for {
			var st AppState
			select {
			case <-ctx.Done():
				return
			case st = <-pending:
			}
			if sent && st.Version <= lastVersion {
				continue
			}

			if wait := minInterval - time.Since(lastPush); sent && wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				// 等待期间到达的更新覆盖当前值
				select {
				case newer := <-pending:
					if newer.Version > st.Version {
						st = newer
					}
				default:
				}
			}

			select {
			case <-ctx.Done():
				return
			case out <- st:
			}
			sent = true
			lastVersion = st.Version
			lastPush = time.Now()
		}
	}()

	return out, cancel
}

// offerLatest 非阻塞写入；缓冲已满时先丢弃最旧的快照。
func offerLatest(ch chan AppState, st AppState) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
