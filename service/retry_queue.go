package service

import (
	"sync"

	"github.com/google/uuid"
)

// RetryQueue is the FIFO of artifacts whose last upload failed.
type RetryQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
	in  map[uuid.UUID]struct{}
}

func NewRetryQueue() *RetryQueue {
	return &RetryQueue{in: make(map[uuid.UUID]struct{})}
}

func (q *RetryQueue) Push(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.in[id]; ok {
		return
	}
	q.in[id] = struct{}{}
	q.ids = append(q.ids, id)
}

func (q *RetryQueue) Remove(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.in[id]; !ok {
		return
	}
	delete(q.in, id)
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
}

func (q *RetryQueue) Snapshot() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]uuid.UUID, len(q.ids))
	copy(out, q.ids)
	return out
}

func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}
