package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueDequeue(t *testing.T) {
	q := NewQueue()
	assert.Equal(t, 0, q.Size())
	assert.Nil(t, q.Dequeue())

	now := time.Now()
	first := &Job{ID: "a", Name: JobSendLoanNotification, LoanID: 1, EnqueuedAt: now, RetryAt: now}
	second := &Job{ID: "b", Name: JobSendLoanNotification, LoanID: 2, EnqueuedAt: now, RetryAt: now}
	q.Enqueue(first)
	q.Enqueue(second)
	assert.Equal(t, 2, q.Size())

	got := q.Dequeue()
	assert.Equal(t, "a", got.ID)
	got = q.Dequeue()
	assert.Equal(t, "b", got.ID)
	assert.Equal(t, 0, q.Size())
}

func TestDequeueSkipsFutureJobs(t *testing.T) {
	q := NewQueue()
	now := time.Now()

	q.Enqueue(&Job{ID: "later", RetryAt: now.Add(time.Hour)})
	q.Enqueue(&Job{ID: "due", RetryAt: now})

	got := q.Dequeue()
	assert.NotNil(t, got)
	assert.Equal(t, "due", got.ID)

	// The future job stays queued until its RetryAt passes.
	assert.Nil(t, q.Dequeue())
	assert.Equal(t, 1, q.Size())
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := NewQueue()
	q.Enqueue(&Job{ID: "a", RetryAt: time.Now()})

	assert.NotNil(t, q.Peek())
	assert.Equal(t, 1, q.Size())
	assert.NotNil(t, q.Dequeue())
	assert.Nil(t, q.Peek())
}

func TestGetAllReturnsCopy(t *testing.T) {
	q := NewQueue()
	q.Enqueue(&Job{ID: "a", RetryAt: time.Now().Add(time.Hour)})
	q.Enqueue(&Job{ID: "b", RetryAt: time.Now().Add(time.Hour)})

	all := q.GetAll()
	assert.Len(t, all, 2)
	all[0] = nil
	assert.NotNil(t, q.GetAll()[0])
}
