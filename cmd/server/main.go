package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"library-service/pkg/database"
	"library-service/pkg/mailer"
	"library-service/pkg/models"
	"library-service/pkg/notifier"
	"library-service/pkg/queue"
	"library-service/pkg/workflow"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var (
	db      *gorm.DB
	service *workflow.Service
)

func main() {
	log.Println("Starting library service...")

	db = database.InitLibraryDB()

	loanPeriodDays := getEnvInt("LOAN_PERIOD_DAYS", 14)
	jobs := queue.NewQueue()
	service = workflow.NewService(db, jobs, loanPeriodDays)

	var sender mailer.Sender
	smtpHost := os.Getenv("SMTP_HOST")
	if smtpHost != "" {
		sender = mailer.NewSMTPSender(mailer.Config{
			Host:     smtpHost,
			Port:     getEnv("SMTP_PORT", "587"),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASSWORD"),
		})
		log.Printf("Using SMTP mailer via %s", smtpHost)
	} else {
		sender = mailer.NewLogSender()
		log.Println("SMTP_HOST not set, mail will be written to the log")
	}

	fromAddress := getEnv("DEFAULT_FROM_EMAIL", "library@example.com")
	n := notifier.NewNotifier(jobs, service, sender, fromAddress)
	n.StartWorker(time.Second)

	scanInterval := getEnvDuration("OVERDUE_SCAN_INTERVAL", 24*time.Hour)
	n.StartOverdueScanner(scanInterval)
	log.Printf("Overdue scanner running every %s", scanInterval)

	server := gin.Default()

	server.POST("/api/v1/authors", createAuthor)
	server.GET("/api/v1/authors", getAuthors)
	server.GET("/api/v1/authors/:authorId", getAuthor)
	server.PUT("/api/v1/authors/:authorId", updateAuthor)
	server.DELETE("/api/v1/authors/:authorId", deleteAuthor)

	server.POST("/api/v1/books", createBook)
	server.GET("/api/v1/books", getBooks)
	server.GET("/api/v1/books/:bookId", getBook)
	server.PUT("/api/v1/books/:bookId", updateBook)
	server.DELETE("/api/v1/books/:bookId", deleteBook)
	server.POST("/api/v1/books/:bookId/loan", loanBook)
	server.POST("/api/v1/books/:bookId/return_book", returnBook)

	server.POST("/api/v1/members", createMember)
	server.GET("/api/v1/members", getMembers)
	server.GET("/api/v1/members/top-active", topActiveMembers)
	server.GET("/api/v1/members/:memberId", getMember)
	server.PUT("/api/v1/members/:memberId", updateMember)
	server.DELETE("/api/v1/members/:memberId", deleteMember)

	server.GET("/api/v1/loans", getLoans)
	server.GET("/api/v1/loans/:loanId", getLoan)
	server.POST("/api/v1/loans/:loanId/extend_due_date", extendDueDate)

	server.GET("/manage/health", healthCheck)

	port := getEnv("PORT", "8080")
	log.Printf("Library service starting on :%s", port)
	if err := server.Run(":" + port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func createAuthor(c *gin.Context) {
	var request struct {
		Name string `json:"name" binding:"required"`
		Bio  string `json:"bio"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	author := models.Author{Name: request.Name, Bio: request.Bio}
	if err := db.Create(&author).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create author"})
		return
	}
	c.JSON(http.StatusCreated, author)
}

func getAuthors(c *gin.Context) {
	var authors []models.Author
	if err := db.Order("id ASC").Find(&authors).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, authors)
}

func getAuthor(c *gin.Context) {
	id, ok := parseID(c, "authorId")
	if !ok {
		return
	}
	var author models.Author
	if err := db.First(&author, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Author not found"})
		return
	}
	c.JSON(http.StatusOK, author)
}

func updateAuthor(c *gin.Context) {
	id, ok := parseID(c, "authorId")
	if !ok {
		return
	}
	var author models.Author
	if err := db.First(&author, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Author not found"})
		return
	}
	var request struct {
		Name string `json:"name" binding:"required"`
		Bio  string `json:"bio"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	author.Name = request.Name
	author.Bio = request.Bio
	if err := db.Save(&author).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update author"})
		return
	}
	c.JSON(http.StatusOK, author)
}

func deleteAuthor(c *gin.Context) {
	id, ok := parseID(c, "authorId")
	if !ok {
		return
	}
	if err := db.Delete(&models.Author{}, id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete author"})
		return
	}
	c.Status(http.StatusNoContent)
}

func createBook(c *gin.Context) {
	var request struct {
		Title           string `json:"title" binding:"required"`
		AuthorID        uint   `json:"author_id" binding:"required"`
		TotalCopies     int    `json:"total_copies" binding:"required,gte=1"`
		AvailableCopies *int   `json:"available_copies"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	var author models.Author
	if err := db.First(&author, request.AuthorID).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Author does not exist."})
		return
	}

	available := request.TotalCopies
	if request.AvailableCopies != nil {
		available = *request.AvailableCopies
	}
	if available < 0 || available > request.TotalCopies {
		c.JSON(http.StatusBadRequest, gin.H{"error": "available_copies must be between 0 and total_copies"})
		return
	}

	book := models.Book{
		Title:           request.Title,
		AuthorID:        request.AuthorID,
		TotalCopies:     request.TotalCopies,
		AvailableCopies: available,
	}
	if err := db.Create(&book).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create book"})
		return
	}
	c.JSON(http.StatusCreated, book)
}

func getBooks(c *gin.Context) {
	pageStr := c.DefaultQuery("page", "1")
	sizeStr := c.DefaultQuery("size", "10")

	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size < 1 || size > 100 {
		size = 10
	}

	var totalElements int64
	if err := db.Model(&models.Book{}).Count(&totalElements).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var books []models.Book
	offset := (page - 1) * size
	if err := db.Order("id ASC").Offset(offset).Limit(size).Find(&books).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"page":          page,
		"pageSize":      size,
		"totalElements": totalElements,
		"items":         books,
	})
}

func getBook(c *gin.Context) {
	id, ok := parseID(c, "bookId")
	if !ok {
		return
	}
	var book models.Book
	if err := db.First(&book, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return
	}
	c.JSON(http.StatusOK, book)
}

func updateBook(c *gin.Context) {
	id, ok := parseID(c, "bookId")
	if !ok {
		return
	}
	var book models.Book
	if err := db.First(&book, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return
	}
	var request struct {
		Title       string `json:"title" binding:"required"`
		AuthorID    uint   `json:"author_id" binding:"required"`
		TotalCopies int    `json:"total_copies" binding:"required,gte=1"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	// Adding or removing physical copies shifts availability by the same
	// amount; copies out on loan are unaffected.
	delta := request.TotalCopies - book.TotalCopies
	if book.AvailableCopies+delta < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot reduce total_copies below copies currently on loan"})
		return
	}
	book.Title = request.Title
	book.AuthorID = request.AuthorID
	book.TotalCopies = request.TotalCopies
	book.AvailableCopies += delta
	if err := db.Save(&book).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update book"})
		return
	}
	c.JSON(http.StatusOK, book)
}

func deleteBook(c *gin.Context) {
	id, ok := parseID(c, "bookId")
	if !ok {
		return
	}
	if err := db.Delete(&models.Book{}, id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete book"})
		return
	}
	c.Status(http.StatusNoContent)
}

func loanBook(c *gin.Context) {
	id, ok := parseID(c, "bookId")
	if !ok {
		return
	}
	var request struct {
		MemberID uint `json:"member_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	loan, err := service.IssueLoan(id, request.MemberID)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{
			"status":   "Book loaned successfully.",
			"loan_uid": loan.LoanUid,
			"due_date": loan.DueDate.Format("2006-01-02"),
		})
	case errors.Is(err, workflow.ErrBookNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
	case errors.Is(err, workflow.ErrNoCopiesAvailable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No available copies."})
	case errors.Is(err, workflow.ErrMemberNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Member does not exist."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func returnBook(c *gin.Context) {
	id, ok := parseID(c, "bookId")
	if !ok {
		return
	}
	var request struct {
		MemberID uint `json:"member_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	_, err := service.ReturnBook(id, request.MemberID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "Book returned successfully."})
	case errors.Is(err, workflow.ErrBookNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
	case errors.Is(err, workflow.ErrActiveLoanNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Active loan does not exist."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func createMember(c *gin.Context) {
	var request struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	member := models.Member{Username: request.Username, Email: request.Email}
	if err := db.Create(&member).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create member"})
		return
	}
	c.JSON(http.StatusCreated, member)
}

func getMembers(c *gin.Context) {
	var members []models.Member
	if err := db.Order("id ASC").Find(&members).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, members)
}

func getMember(c *gin.Context) {
	id, ok := parseID(c, "memberId")
	if !ok {
		return
	}
	var member models.Member
	if err := db.First(&member, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}
	c.JSON(http.StatusOK, member)
}

func updateMember(c *gin.Context) {
	id, ok := parseID(c, "memberId")
	if !ok {
		return
	}
	var member models.Member
	if err := db.First(&member, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}
	var request struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	member.Username = request.Username
	member.Email = request.Email
	if err := db.Save(&member).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update member"})
		return
	}
	c.JSON(http.StatusOK, member)
}

func deleteMember(c *gin.Context) {
	id, ok := parseID(c, "memberId")
	if !ok {
		return
	}
	if err := db.Delete(&models.Member{}, id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete member"})
		return
	}
	c.Status(http.StatusNoContent)
}

func topActiveMembers(c *gin.Context) {
	members, err := service.TopActiveMembers(5)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, members)
}

func getLoans(c *gin.Context) {
	var loans []models.Loan
	if err := db.Order("id ASC").Find(&loans).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, loans)
}

func getLoan(c *gin.Context) {
	id, ok := parseID(c, "loanId")
	if !ok {
		return
	}
	var loan models.Loan
	if err := db.First(&loan, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Loan not found"})
		return
	}
	c.JSON(http.StatusOK, loan)
}

func extendDueDate(c *gin.Context) {
	id, ok := parseID(c, "loanId")
	if !ok {
		return
	}
	var request struct {
		AdditionalDays *int `json:"additional_days" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	newDueDate, err := service.ExtendDueDate(id, *request.AdditionalDays)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{
			"status":   "Loan extended successfully.",
			"due_date": newDueDate.Format("2006-01-02"),
		})
	case errors.Is(err, workflow.ErrLoanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Loan not found"})
	case errors.Is(err, workflow.ErrLoanAlreadyReturned):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Active loan does not exist."})
	case errors.Is(err, workflow.ErrLoanOverdue):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Loan is over Due"})
	case errors.Is(err, workflow.ErrInvalidExtensionDays):
		c.JSON(http.StatusBadRequest, gin.H{"error": "additional_days must be a positive integer"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func healthCheck(c *gin.Context) {
	sqlDB, err := db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database connection failed",
			"error":   err.Error(),
		})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database ping failed",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"details": "Library service is active",
	})
}

func parseID(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid identifier"})
		return 0, false
	}
	return uint(id), true
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		log.Printf("Invalid %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		log.Printf("Invalid %s=%q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
