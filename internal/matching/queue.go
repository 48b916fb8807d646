// Package matching holds the waiting queue and the first-fit matcher that
// pairs a seeker with the earliest compatible participant in it.
package matching

// Queue is the FIFO pool of participants waiting for a partner. An id appears
// at most once. Order is arrival order and is only used to decide who is
// scanned (and therefore served) first.
//
// Queue is not goroutine-safe; the pairing service serializes access.
type Queue struct {
	ids    []string
	queued map[string]bool
}

// NewQueue creates an empty waiting queue.
func NewQueue() *Queue {
	return &Queue{queued: make(map[string]bool)}
}

// Enqueue appends id to the tail. It returns false, leaving the queue
// untouched, if id is already waiting.
func (q *Queue) Enqueue(id string) bool {
	if q.queued[id] {
		return false
	}
	q.queued[id] = true
	q.ids = append(q.ids, id)
	return true
}

// Remove drops id from the queue, preserving the order of the remaining
// entries. It returns false if id was not waiting.
func (q *Queue) Remove(id string) bool {
	if !q.queued[id] {
		return false
	}
	delete(q.queued, id)
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether id is waiting.
func (q *Queue) Contains(id string) bool {
	return q.queued[id]
}

// Len returns the number of waiting participants.
func (q *Queue) Len() int {
	return len(q.ids)
}

// IDs returns the waiting ids, oldest first.
func (q *Queue) IDs() []string {
	out := make([]string, len(q.ids))
	copy(out, q.ids)
	return out
}
