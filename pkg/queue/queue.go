package queue

import (
	"sync"
	"time"
)

const (
	JobSendLoanNotification = "send_loan_notification"
	JobCheckOverdueLoans    = "check_overdue_loans"
)

type Job struct {
	ID         string
	Name       string
	LoanID     uint
	EnqueuedAt time.Time
	RetryAt    time.Time
	RetryCount int
	MaxRetries int
}

type Queue struct {
	items []*Job
	mu    sync.Mutex
}

func NewQueue() *Queue {
	return &Queue{
		items: make([]*Job, 0),
	}
}

func (q *Queue) Enqueue(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, job)
}

// Dequeue removes and returns the first job whose RetryAt has passed,
// or nil if nothing is due yet.
func (q *Queue) Dequeue() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for i, job := range q.items {
		if job.RetryAt.Before(now) || job.RetryAt.Equal(now) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return job
		}
	}
	return nil
}

func (q *Queue) Peek() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for _, job := range q.items {
		if job.RetryAt.Before(now) || job.RetryAt.Equal(now) {
			return job
		}
	}
	return nil
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) GetAll() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]*Job, len(q.items))
	copy(result, q.items)
	return result
}
