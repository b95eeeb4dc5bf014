package purchases

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// CreatePurchaseRequest is the inbound payload for recording a purchase.
// Any exchangeRate field a client sends is deliberately absent here: the
// central rate is fetched server-side at execution time.
type CreatePurchaseRequest struct {
	SupplierID   int64   `json:"supplierId" validate:"required,gt=0"`
	PurchaseDate string  `json:"purchaseDate" validate:"required,datetime=2006-01-02"`
	Amount       float64 `json:"amount" validate:"required,gt=0"`
	Currency     string  `json:"currency" validate:"required,len=3"`
	Notes        string  `json:"notes" validate:"max=2000"`
}

// Validate runs struct validation.
func (r CreatePurchaseRequest) Validate() error {
	return validate.Struct(r)
}

// Date parses the purchase date.
func (r CreatePurchaseRequest) Date() (time.Time, error) {
	return time.Parse("2006-01-02", r.PurchaseDate)
}

// CreateAdvanceRequest is the inbound payload for a supplier advance.
type CreateAdvanceRequest struct {
	SupplierID  int64   `json:"supplierId" validate:"required,gt=0"`
	AdvanceDate string  `json:"advanceDate" validate:"required,datetime=2006-01-02"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Currency    string  `json:"currency" validate:"required,len=3"`
	Notes       string  `json:"notes" validate:"max=2000"`
}

// Validate runs struct validation.
func (r CreateAdvanceRequest) Validate() error {
	return validate.Struct(r)
}

// Date parses the advance date.
func (r CreateAdvanceRequest) Date() (time.Time, error) {
	return time.Parse("2006-01-02", r.AdvanceDate)
}

// ReturnPurchaseRequest reverses a recorded purchase. It carries no amount:
// the reversal always posts the full recorded amount back to capital.
type ReturnPurchaseRequest struct {
	PurchaseNumber string `json:"purchaseNumber" validate:"required"`
	ReturnDate     string `json:"returnDate" validate:"required,datetime=2006-01-02"`
	Reason         string `json:"reason" validate:"required,max=2000"`
}

// Validate runs struct validation.
func (r ReturnPurchaseRequest) Validate() error {
	return validate.Struct(r)
}

// Date parses the return date.
func (r ReturnPurchaseRequest) Date() (time.Time, error) {
	return time.Parse("2006-01-02", r.ReturnDate)
}

type purchaseView struct {
	ID           int64   `json:"id"`
	Number       string  `json:"number"`
	SupplierID   int64   `json:"supplierId"`
	PurchaseDate string  `json:"purchaseDate"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	ExchangeRate float64 `json:"exchangeRate"`
	Status       string  `json:"status"`
}

func toView(p Purchase) purchaseView {
	return purchaseView{
		ID:           p.ID,
		Number:       p.Number,
		SupplierID:   p.SupplierID,
		PurchaseDate: p.PurchaseDate.Format("2006-01-02"),
		Amount:       p.Amount,
		Currency:     p.Currency,
		ExchangeRate: p.ExchangeRate,
		Status:       string(p.Status),
	}
}

type advanceView struct {
	ID           int64   `json:"id"`
	Number       string  `json:"number"`
	SupplierID   int64   `json:"supplierId"`
	AdvanceDate  string  `json:"advanceDate"`
	DueDate      string  `json:"dueDate"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	ExchangeRate float64 `json:"exchangeRate"`
}

func toAdvanceView(a Advance) advanceView {
	return advanceView{
		ID:           a.ID,
		Number:       a.Number,
		SupplierID:   a.SupplierID,
		AdvanceDate:  a.AdvanceDate.Format("2006-01-02"),
		DueDate:      a.DueDate.Format("2006-01-02"),
		Amount:       a.Amount,
		Currency:     a.Currency,
		ExchangeRate: a.ExchangeRate,
	}
}
