package queue

// FIFO is an explicit ordered queue of job ids, dequeued from the front.
// It is not safe for concurrent use on its own; the dispatcher serializes
// all access under its admission lock.
type FIFO struct {
	ids []string
}

// NewFIFO returns an empty queue.
func NewFIFO() *FIFO {
	return &FIFO{}
}

// Push appends an id to the back of the queue.
func (q *FIFO) Push(id string) {
	q.ids = append(q.ids, id)
}

// Pop removes and returns the id at the front of the queue.
func (q *FIFO) Pop() (string, bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true
}

// Remove deletes the first occurrence of id, preserving the order of the
// remaining entries.
func (q *FIFO) Remove(id string) bool {
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of queued ids.
func (q *FIFO) Len() int {
	return len(q.ids)
}
