package types

import (
	"sync"

	"github.com/elliotchance/orderedmap/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultSeenCacheSize = 4096

// MsgQueue 按到达顺序保存待处理的消息，相同key的消息只入队一次
// 读协程调用Push，驱动协程调用Drain
type MsgQueue[T any] struct {
	mtx      sync.Mutex
	items    *orderedmap.OrderedMap[string, T]
	seen     *lru.Cache[string, struct{}]
	capacity int
	notify   chan struct{}
}

func NewMsgQueue[T any](capacity int) *MsgQueue[T] {
	seen, err := lru.New[string, struct{}](DefaultSeenCacheSize)
	if err != nil {
		panic(err)
	}
	return &MsgQueue[T]{
		items:    orderedmap.NewOrderedMap[string, T](),
		seen:     seen,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push 入队成功返回true；已经见过的消息或者队列已满返回false
func (q *MsgQueue[T]) Push(key string, item T) bool {
	q.mtx.Lock()
	if q.seen.Contains(key) || (q.capacity > 0 && q.items.Len() >= q.capacity) {
		q.mtx.Unlock()
		return false
	}
	q.seen.Add(key, struct{}{})
	q.items.Set(key, item)
	q.mtx.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Drain 取出所有消息
func (q *MsgQueue[T]) Drain() []T {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	out := make([]T, 0, q.items.Len())
	for el := q.items.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	q.items = orderedmap.NewOrderedMap[string, T]()
	return out
}

// Notify 有新消息入队时可读
func (q *MsgQueue[T]) Notify() <-chan struct{} {
	return q.notify
}

func (q *MsgQueue[T]) Len() int {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return q.items.Len()
}
