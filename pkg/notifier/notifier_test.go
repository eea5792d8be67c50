package notifier

import (
	"errors"
	"sync"
	"testing"
	"time"

	"library-service/pkg/models"
	"library-service/pkg/queue"
	"library-service/pkg/workflow"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type sentMail struct {
	subject    string
	message    string
	recipients []string
}

type recordSender struct {
	mu      sync.Mutex
	sent    []sentMail
	failFor string // recipient address that should fail
}

func (s *recordSender) Send(subject, message, from string, recipients []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recipients {
		if r == s.failFor {
			return errors.New("delivery refused")
		}
	}
	s.sent = append(s.sent, sentMail{subject: subject, message: message, recipients: recipients})
	return nil
}

func (s *recordSender) all() []sentMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]sentMail, len(s.sent))
	copy(result, s.sent)
	return result
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Author{}, &models.Book{}, &models.Member{}, &models.Loan{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func seedLoan(t *testing.T, db *gorm.DB, username string, dueDate time.Time) models.Loan {
	author := models.Author{Name: "Test Author"}
	assert.NoError(t, db.Create(&author).Error)
	book := models.Book{Title: "Test Book", AuthorID: author.ID, TotalCopies: 1, AvailableCopies: 0}
	assert.NoError(t, db.Create(&book).Error)
	member := models.Member{Username: username, Email: username + "@example.com"}
	assert.NoError(t, db.Create(&member).Error)
	loan := models.Loan{
		LoanUid:   uuid.New().String(),
		BookID:    book.ID,
		MemberID:  member.ID,
		IssueDate: workflow.Today(),
		DueDate:   dueDate,
	}
	assert.NoError(t, db.Create(&loan).Error)
	return loan
}

func newTestNotifier(db *gorm.DB, jobs *queue.Queue, sender *recordSender) *Notifier {
	service := workflow.NewService(db, jobs, 14)
	return NewNotifier(jobs, service, sender, "library@example.com")
}

func TestSendLoanNotification(t *testing.T) {
	db := setupTestDB(t)
	sender := &recordSender{}
	n := newTestNotifier(db, queue.NewQueue(), sender)

	loan := seedLoan(t, db, "alice", workflow.Today().AddDate(0, 0, 14))

	err := n.SendLoanNotification(loan.ID)
	assert.NoError(t, err)
	assert.Len(t, sender.sent, 1)
	assert.Equal(t, "Book Loaned Successfully", sender.sent[0].subject)
	assert.Equal(t, []string{"alice@example.com"}, sender.sent[0].recipients)
	assert.Contains(t, sender.sent[0].message, "Hello alice")
	assert.Contains(t, sender.sent[0].message, "\"Test Book\"")
}

func TestSendLoanNotificationMissingLoan(t *testing.T) {
	db := setupTestDB(t)
	sender := &recordSender{}
	n := newTestNotifier(db, queue.NewQueue(), sender)

	// A loan that disappeared before delivery is treated as handled.
	err := n.SendLoanNotification(12345)
	assert.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestSendLoanNotificationDeliveryFailure(t *testing.T) {
	db := setupTestDB(t)
	sender := &recordSender{failFor: "alice@example.com"}
	n := newTestNotifier(db, queue.NewQueue(), sender)

	loan := seedLoan(t, db, "alice", workflow.Today().AddDate(0, 0, 14))

	err := n.SendLoanNotification(loan.ID)
	assert.Error(t, err)
}

func TestCheckOverdueLoans(t *testing.T) {
	db := setupTestDB(t)
	sender := &recordSender{}
	n := newTestNotifier(db, queue.NewQueue(), sender)

	seedLoan(t, db, "alice", workflow.Today().AddDate(0, 0, -1))
	seedLoan(t, db, "bob", workflow.Today().AddDate(0, 0, 14))

	sent, err := n.CheckOverdueLoans()
	assert.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, sender.sent, 1)
	assert.Equal(t, "Over Due Notification: Test Book", sender.sent[0].subject)
	assert.Equal(t, []string{"alice@example.com"}, sender.sent[0].recipients)
	assert.Contains(t, sender.sent[0].message, "Dear alice")
}

func TestCheckOverdueLoansIsolatesFailures(t *testing.T) {
	db := setupTestDB(t)
	sender := &recordSender{failFor: "alice@example.com"}
	n := newTestNotifier(db, queue.NewQueue(), sender)

	seedLoan(t, db, "alice", workflow.Today().AddDate(0, 0, -2))
	seedLoan(t, db, "bob", workflow.Today().AddDate(0, 0, -1))

	sent, err := n.CheckOverdueLoans()
	assert.NoError(t, err)
	assert.Equal(t, 1, sent)

	recipients := []string{}
	for _, mail := range sender.sent {
		recipients = append(recipients, mail.recipients...)
	}
	assert.Equal(t, []string{"bob@example.com"}, recipients)
}

func TestProcessNextDeliversLoanNotification(t *testing.T) {
	db := setupTestDB(t)
	jobs := queue.NewQueue()
	sender := &recordSender{}
	n := newTestNotifier(db, jobs, sender)

	loan := seedLoan(t, db, "alice", workflow.Today().AddDate(0, 0, 14))
	jobs.Enqueue(&queue.Job{
		ID:         uuid.New().String(),
		Name:       queue.JobSendLoanNotification,
		LoanID:     loan.ID,
		EnqueuedAt: time.Now(),
		RetryAt:    time.Now(),
		MaxRetries: 3,
	})

	assert.True(t, n.ProcessNext())
	assert.Len(t, sender.sent, 1)
	assert.Equal(t, 0, jobs.Size())

	assert.False(t, n.ProcessNext())
}

func TestProcessNextRunsOverdueScan(t *testing.T) {
	db := setupTestDB(t)
	jobs := queue.NewQueue()
	sender := &recordSender{}
	n := newTestNotifier(db, jobs, sender)

	seedLoan(t, db, "alice", workflow.Today().AddDate(0, 0, -1))
	jobs.Enqueue(&queue.Job{
		ID:         uuid.New().String(),
		Name:       queue.JobCheckOverdueLoans,
		EnqueuedAt: time.Now(),
		RetryAt:    time.Now(),
		MaxRetries: 1,
	})

	assert.True(t, n.ProcessNext())
	assert.Len(t, sender.sent, 1)
	assert.Equal(t, "Over Due Notification: Test Book", sender.sent[0].subject)
	assert.Equal(t, 0, jobs.Size())
}

func TestProcessNextReschedulesFailedJob(t *testing.T) {
	db := setupTestDB(t)
	jobs := queue.NewQueue()
	sender := &recordSender{failFor: "alice@example.com"}
	n := newTestNotifier(db, jobs, sender)

	loan := seedLoan(t, db, "alice", workflow.Today().AddDate(0, 0, 14))
	jobs.Enqueue(&queue.Job{
		ID:         uuid.New().String(),
		Name:       queue.JobSendLoanNotification,
		LoanID:     loan.ID,
		EnqueuedAt: time.Now(),
		RetryAt:    time.Now(),
		MaxRetries: 3,
	})

	assert.True(t, n.ProcessNext())
	assert.Equal(t, 1, jobs.Size())

	job := jobs.GetAll()[0]
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.RetryAt.After(time.Now()))
}

func TestProcessNextDropsExhaustedJob(t *testing.T) {
	db := setupTestDB(t)
	jobs := queue.NewQueue()
	sender := &recordSender{failFor: "alice@example.com"}
	n := newTestNotifier(db, jobs, sender)

	loan := seedLoan(t, db, "alice", workflow.Today().AddDate(0, 0, 14))
	jobs.Enqueue(&queue.Job{
		ID:         uuid.New().String(),
		Name:       queue.JobSendLoanNotification,
		LoanID:     loan.ID,
		EnqueuedAt: time.Now(),
		RetryAt:    time.Now(),
		RetryCount: 3,
		MaxRetries: 3,
	})

	assert.True(t, n.ProcessNext())
	assert.Equal(t, 0, jobs.Size())
}

func TestStartWorkerDrainsQueue(t *testing.T) {
	db := setupTestDB(t)
	jobs := queue.NewQueue()
	sender := &recordSender{}
	n := newTestNotifier(db, jobs, sender)
	defer n.Stop()

	loan := seedLoan(t, db, "alice", workflow.Today().AddDate(0, 0, 14))
	jobs.Enqueue(&queue.Job{
		ID:         uuid.New().String(),
		Name:       queue.JobSendLoanNotification,
		LoanID:     loan.ID,
		EnqueuedAt: time.Now(),
		RetryAt:    time.Now(),
		MaxRetries: 3,
	})

	n.StartWorker(5 * time.Millisecond)

	assert.Eventually(t, func() bool {
		return len(sender.all()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, jobs.Size())
}

func TestStartOverdueScannerNotifiesThroughWorker(t *testing.T) {
	db := setupTestDB(t)
	jobs := queue.NewQueue()
	sender := &recordSender{}
	n := newTestNotifier(db, jobs, sender)
	defer n.Stop()

	seedLoan(t, db, "alice", workflow.Today().AddDate(0, 0, -1))

	n.StartWorker(5 * time.Millisecond)
	n.StartOverdueScanner(10 * time.Millisecond)

	assert.Eventually(t, func() bool {
		for _, mail := range sender.all() {
			if mail.subject == "Over Due Notification: Test Book" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
