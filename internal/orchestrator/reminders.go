package orchestrator

import (
	"sync"
	"time"
)

// Reminder is a due reminder waiting to be shown to the user.
type Reminder struct {
	ID    int64     `json:"id"`
	Title string    `json:"title"`
	DueAt time.Time `json:"due_at"`
}

// ReminderQueue buffers due reminders between autonomous ticks and the
// next user interaction.
type ReminderQueue struct {
	mu    sync.Mutex
	items []Reminder
}

// Push appends a reminder.
func (q *ReminderQueue) Push(r Reminder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, r)
}

// PopAll drains the queue.
func (q *ReminderQueue) PopAll() []Reminder {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len reports how many reminders are waiting.
func (q *ReminderQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
