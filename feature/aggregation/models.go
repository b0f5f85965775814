package aggregation

import "time"

// Provider is a financial institution the user can link.
type Provider struct {
	ID           int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name         string    `json:"name"`
	BaseURL      string    `json:"baseUrl"`
	LoginURL     string    `json:"loginUrl"`
	Status       string    `json:"status"`
	LastModified time.Time `json:"lastModified"`
}

// ProviderAccount is one login at a provider.
type ProviderAccount struct {
	ID          int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ProviderID  int64     `gorm:"index" json:"providerId"`
	Status      string    `json:"status"`
	IsManual    bool      `json:"isManual"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Account is a bank, card or investment account under a provider account.
type Account struct {
	ID                int64   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ProviderAccountID int64   `gorm:"index" json:"providerAccountId"`
	AccountName       string  `json:"accountName"`
	AccountType       string  `json:"accountType"`
	Balance           float64 `json:"balance"`
	Currency          string  `json:"currency"`
	Status            string  `json:"status"`
}

// Transaction is a posted or pending account movement. Date is YYYY-MM-DD.
type Transaction struct {
	ID           int64   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	AccountID    int64   `gorm:"index" json:"accountId"`
	Date         string  `gorm:"index" json:"date"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Description  string  `json:"description"`
	MerchantName string  `json:"merchantName"`
	Category     string  `json:"category"`
	Status       string  `json:"status"`
}

// Card is a payment card attached to an account.
type Card struct {
	ID        int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	AccountID int64  `gorm:"index" json:"accountId"`
	Last4     string `json:"last4"`
	Network   string `json:"network"`
	Status    string `json:"status"`
}

// Bill is a recurring bill tracked by the user.
type Bill struct {
	ID        int64   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name      string  `json:"name"`
	Amount    float64 `json:"amount"`
	DueDate   string  `json:"dueDate"`
	Frequency string  `json:"frequency"`
}

// BillPayment is one payment of a bill.
type BillPayment struct {
	ID     int64   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	BillID int64   `gorm:"index" json:"billId"`
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
}

// Budget is a spending limit.
type Budget struct {
	ID        int64   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name      string  `json:"name"`
	Amount    float64 `json:"amount"`
	Frequency string  `json:"frequency"`
}

// BudgetPeriod is the spend of a budget over one period.
type BudgetPeriod struct {
	ID        int64   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	BudgetID  int64   `gorm:"index" json:"budgetId"`
	StartDate string  `json:"startDate"`
	EndDate   string  `json:"endDate"`
	Spent     float64 `json:"spent"`
}

// Goal is a savings target.
type Goal struct {
	ID           int64   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name         string  `json:"name"`
	TargetAmount float64 `json:"targetAmount"`
	TargetDate   string  `json:"targetDate"`
}

// GoalPeriod is the progress of a goal over one period.
type GoalPeriod struct {
	ID        int64   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	GoalID    int64   `gorm:"index" json:"goalId"`
	StartDate string  `json:"startDate"`
	EndDate   string  `json:"endDate"`
	Current   float64 `json:"current"`
}

// Consent is a data-sharing consent granted for a provider account.
type Consent struct {
	ID                int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ProviderAccountID int64     `gorm:"index" json:"providerAccountId"`
	Status            string    `json:"status"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

// UserTag is a label the user can put on transactions. Tags are identified by name.
type UserTag struct {
	Name      string    `gorm:"primaryKey" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
