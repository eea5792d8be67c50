package models

import (
	"time"
)

type Author struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:120;not null" json:"name"`
	Bio       string    `json:"bio"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

type Book struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Title           string    `gorm:"not null" json:"title"`
	AuthorID        uint      `gorm:"not null;index" json:"author_id"`
	TotalCopies     int       `gorm:"not null" json:"total_copies"`
	AvailableCopies int       `gorm:"not null;check:available_copies >= 0" json:"available_copies"`
	CreatedAt       time.Time `json:"-"`
	UpdatedAt       time.Time `json:"-"`

	Author Author `gorm:"foreignKey:AuthorID" json:"-"`
}

type Member struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:80;not null;uniqueIndex" json:"username"`
	Email     string    `gorm:"size:254;not null" json:"email"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

type Loan struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	LoanUid    string     `gorm:"type:uuid;uniqueIndex;not null" json:"loan_uid"`
	BookID     uint       `gorm:"not null;index" json:"book_id"`
	MemberID   uint       `gorm:"not null;index" json:"member_id"`
	IssueDate  time.Time  `gorm:"not null" json:"issue_date"`
	DueDate    time.Time  `gorm:"not null;index" json:"due_date"`
	Returned   bool       `gorm:"not null;default:false;index" json:"returned"`
	ReturnDate *time.Time `json:"return_date"`
	CreatedAt  time.Time  `json:"-"`
	UpdatedAt  time.Time  `json:"-"`

	Book   Book   `gorm:"foreignKey:BookID" json:"-"`
	Member Member `gorm:"foreignKey:MemberID" json:"-"`
}
