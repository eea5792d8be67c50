package notifier

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"library-service/pkg/circuitbreaker"
	"library-service/pkg/mailer"
	"library-service/pkg/queue"
	"library-service/pkg/workflow"

	"github.com/google/uuid"
)

const (
	retryBackoff       = 30 * time.Second
	overdueScanRetries = 1
)

type Notifier struct {
	jobs    *queue.Queue
	service *workflow.Service
	sender  mailer.Sender
	breaker *circuitbreaker.CircuitBreaker
	from    string

	done     chan struct{}
	stopOnce sync.Once
}

func NewNotifier(jobs *queue.Queue, service *workflow.Service, sender mailer.Sender, from string) *Notifier {
	return &Notifier{
		jobs:    jobs,
		service: service,
		sender:  sender,
		breaker: circuitbreaker.NewCircuitBreaker(5, 30*time.Second),
		from:    from,
		done:    make(chan struct{}),
	}
}

// SendLoanNotification mails the member a confirmation for the loaned book.
// The loan, member contact, and title come from one joined read; a loan that
// no longer exists is treated as already handled and skipped. Delivery
// failures are returned so the queue can retry.
func (n *Notifier) SendLoanNotification(loanID uint) error {
	view, err := n.service.ViewLoan(loanID)
	if err != nil {
		if errors.Is(err, workflow.ErrLoanNotFound) {
			return nil
		}
		return err
	}

	subject := "Book Loaned Successfully"
	message := fmt.Sprintf("Hello %s,\n\nYou have successfully loaned \"%s\".\nPlease return it by the due date.",
		view.Username, view.BookTitle)

	return n.breaker.Execute(func() error {
		return n.sender.Send(subject, message, n.from, []string{view.Email})
	})
}

// CheckOverdueLoans mails a reminder for every active loan past its due
// date. Each loan is handled independently; a failed send is logged and the
// rest still go out. Returns the number of reminders delivered.
func (n *Notifier) CheckOverdueLoans() (int, error) {
	overdue, err := n.service.OverdueLoans()
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, loan := range overdue {
		subject := fmt.Sprintf("Over Due Notification: %s", loan.BookTitle)
		message := fmt.Sprintf("Dear %s, \n\nYour %s is Over due.\n\nPlease return the book as soon as possible",
			loan.Username, loan.BookTitle)

		err := n.breaker.Execute(func() error {
			return n.sender.Send(subject, message, n.from, []string{loan.Email})
		})
		if err != nil {
			log.Printf("Failed to send overdue notification for loan %s: %v", loan.LoanUid, err)
			continue
		}
		sent++
	}
	return sent, nil
}

// ProcessNext handles one due job from the queue. Returns false when no job
// is ready. Failed jobs are rescheduled with backoff until MaxRetries.
func (n *Notifier) ProcessNext() bool {
	job := n.jobs.Dequeue()
	if job == nil {
		return false
	}

	var err error
	switch job.Name {
	case queue.JobSendLoanNotification:
		err = n.SendLoanNotification(job.LoanID)
	case queue.JobCheckOverdueLoans:
		var sent int
		sent, err = n.CheckOverdueLoans()
		if err == nil && sent > 0 {
			log.Printf("Overdue scan sent %d notifications", sent)
		}
	default:
		log.Printf("Dropping unknown job %s (%s)", job.ID, job.Name)
		return true
	}

	if err != nil {
		n.reschedule(job, err)
	}
	return true
}

func (n *Notifier) reschedule(job *queue.Job, cause error) {
	if job.RetryCount >= job.MaxRetries {
		log.Printf("Giving up on job %s (%s) after %d retries: %v", job.ID, job.Name, job.RetryCount, cause)
		return
	}
	job.RetryCount++
	job.RetryAt = time.Now().Add(time.Duration(job.RetryCount) * retryBackoff)
	n.jobs.Enqueue(job)
	log.Printf("Rescheduled job %s (%s), retry %d/%d: %v", job.ID, job.Name, job.RetryCount, job.MaxRetries, cause)
}

// StartWorker drains the job queue in the background until Stop is called.
func (n *Notifier) StartWorker(pollInterval time.Duration) {
	go func() {
		for {
			if n.ProcessNext() {
				select {
				case <-n.done:
					return
				default:
				}
				continue
			}
			select {
			case <-n.done:
				return
			case <-time.After(pollInterval):
			}
		}
	}()
}

// StartOverdueScanner enqueues an overdue check on a fixed schedule. The
// check itself runs on the worker, so a failed scan follows the same retry
// path as any other job.
func (n *Notifier) StartOverdueScanner(interval time.Duration) {
	go func() {
		for {
			now := time.Now()
			n.jobs.Enqueue(&queue.Job{
				ID:         uuid.New().String(),
				Name:       queue.JobCheckOverdueLoans,
				EnqueuedAt: now,
				RetryAt:    now,
				MaxRetries: overdueScanRetries,
			})
			select {
			case <-n.done:
				return
			case <-time.After(interval):
			}
		}
	}()
}

// Stop terminates the worker and scanner goroutines.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() { close(n.done) })
}
