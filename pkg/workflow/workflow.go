package workflow

import (
	"errors"
	"time"

	"library-service/pkg/models"
	"library-service/pkg/queue"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrBookNotFound         = errors.New("book not found")
	ErrMemberNotFound       = errors.New("member does not exist")
	ErrNoCopiesAvailable    = errors.New("no available copies")
	ErrActiveLoanNotFound   = errors.New("active loan does not exist")
	ErrLoanNotFound         = errors.New("loan not found")
	ErrLoanAlreadyReturned  = errors.New("loan already returned")
	ErrLoanOverdue          = errors.New("loan is overdue")
	ErrInvalidExtensionDays = errors.New("additional days must be a positive integer")
)

const notificationMaxRetries = 3

type Service struct {
	db             *gorm.DB
	jobs           *queue.Queue
	loanPeriodDays int
}

func NewService(db *gorm.DB, jobs *queue.Queue, loanPeriodDays int) *Service {
	return &Service{
		db:             db,
		jobs:           jobs,
		loanPeriodDays: loanPeriodDays,
	}
}

// Today returns the current date truncated to midnight UTC. Loan dates are
// compared at day granularity throughout.
func Today() time.Time {
	y, m, d := time.Now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IssueLoan creates an active loan and decrements the book's available
// copies in one transaction. The availability decrement is a conditional
// update so concurrent issues against the same book cannot drive the count
// below zero. The confirmation notification is enqueued after commit and
// never affects the outcome.
func (s *Service) IssueLoan(bookID, memberID uint) (*models.Loan, error) {
	var loan models.Loan

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var book models.Book
		if err := tx.First(&book, bookID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		if book.AvailableCopies < 1 {
			return ErrNoCopiesAvailable
		}

		var member models.Member
		if err := tx.First(&member, memberID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}

		today := Today()
		loan = models.Loan{
			LoanUid:   uuid.New().String(),
			BookID:    book.ID,
			MemberID:  member.ID,
			IssueDate: today,
			DueDate:   today.AddDate(0, 0, s.loanPeriodDays),
			Returned:  false,
		}
		if err := tx.Create(&loan).Error; err != nil {
			return err
		}

		result := tx.Model(&models.Book{}).
			Where("id = ? AND available_copies > 0", book.ID).
			UpdateColumn("available_copies", gorm.Expr("available_copies - 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNoCopiesAvailable
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.jobs != nil {
		now := time.Now()
		s.jobs.Enqueue(&queue.Job{
			ID:         uuid.New().String(),
			Name:       queue.JobSendLoanNotification,
			LoanID:     loan.ID,
			EnqueuedAt: now,
			RetryAt:    now,
			MaxRetries: notificationMaxRetries,
		})
	}
	return &loan, nil
}

// ReturnBook closes the member's active loan for the book and increments the
// available copy count. If more than one active loan matches, the one with
// the earliest due date is returned first; ids break ties. The state flip is
// a conditional update on returned = false, so a racing return of the same
// loan finds zero rows and reports no active loan instead of incrementing
// the count a second time.
func (s *Service) ReturnBook(bookID, memberID uint) (*models.Loan, error) {
	var loan models.Loan

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var book models.Book
		if err := tx.First(&book, bookID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}

		err := tx.Where("book_id = ? AND member_id = ? AND returned = ?", bookID, memberID, false).
			Order("due_date ASC, id ASC").
			First(&loan).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrActiveLoanNotFound
			}
			return err
		}

		today := Today()
		result := tx.Model(&models.Loan{}).
			Where("id = ? AND returned = ?", loan.ID, false).
			Updates(map[string]interface{}{"returned": true, "return_date": today})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrActiveLoanNotFound
		}
		loan.Returned = true
		loan.ReturnDate = &today

		return tx.Model(&models.Book{}).
			Where("id = ?", bookID).
			UpdateColumn("available_copies", gorm.Expr("available_copies + 1")).Error
	})
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// ExtendDueDate pushes an active, not-yet-overdue loan's due date forward.
// Checks run in order: loan exists, not returned, not overdue, days valid.
// Only the due_date column is written, guarded on returned = false, so an
// extension racing a return can neither resurrect the loan nor clear its
// return date.
func (s *Service) ExtendDueDate(loanID uint, additionalDays int) (time.Time, error) {
	var newDueDate time.Time

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var loan models.Loan
		if err := tx.First(&loan, loanID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLoanNotFound
			}
			return err
		}

		if loan.Returned {
			return ErrLoanAlreadyReturned
		}
		if loan.DueDate.Before(Today()) {
			return ErrLoanOverdue
		}
		if additionalDays <= 0 {
			return ErrInvalidExtensionDays
		}

		newDueDate = loan.DueDate.AddDate(0, 0, additionalDays)
		result := tx.Model(&models.Loan{}).
			Where("id = ? AND returned = ?", loanID, false).
			UpdateColumn("due_date", newDueDate)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrLoanAlreadyReturned
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return newDueDate, nil
}

// LoanView is the denormalized read the notifier works from: loan, member
// contact, and book title in one row.
type LoanView struct {
	LoanID    uint      `json:"loan_id"`
	LoanUid   string    `json:"loan_uid"`
	BookTitle string    `json:"book_title"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	DueDate   time.Time `json:"due_date"`
}

func (s *Service) loanViews() *gorm.DB {
	return s.db.Model(&models.Loan{}).
		Select("loans.id AS loan_id, loans.loan_uid, loans.due_date, books.title AS book_title, members.username, members.email").
		Joins("JOIN books ON books.id = loans.book_id").
		Joins("JOIN members ON members.id = loans.member_id")
}

// ViewLoan reads one loan with its member contact and book title in a
// single joined query.
func (s *Service) ViewLoan(loanID uint) (*LoanView, error) {
	var view LoanView
	err := s.loanViews().Where("loans.id = ?", loanID).Take(&view).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return &view, nil
}

// OverdueLoans returns every active loan past its due date. Read-only;
// overdue is a derived predicate, not stored state.
func (s *Service) OverdueLoans() ([]LoanView, error) {
	var overdue []LoanView
	err := s.loanViews().
		Where("loans.returned = ? AND loans.due_date < ?", false, Today()).
		Scan(&overdue).Error
	if err != nil {
		return nil, err
	}
	return overdue, nil
}

type MemberActivity struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	ActiveLoans int    `json:"active_loans"`
}

// TopActiveMembers lists members ordered by ascending active-loan count.
func (s *Service) TopActiveMembers(limit int) ([]MemberActivity, error) {
	var members []MemberActivity
	err := s.db.Model(&models.Member{}).
		Select("members.id, members.username, COUNT(loans.id) AS active_loans").
		Joins("LEFT JOIN loans ON loans.member_id = members.id AND loans.returned = ?", false).
		Group("members.id, members.username").
		Order("active_loans ASC, members.id ASC").
		Limit(limit).
		Scan(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}
