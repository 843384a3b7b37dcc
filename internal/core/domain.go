package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Shinhan CardCompany = "SHINHAN"
	Samsung CardCompany = "SAMSUNG"
	Kakao   CardCompany = "KAKAO"
	Woori   CardCompany = "WOORI"
	KB      CardCompany = "KB"
	Hana    CardCompany = "HANA"
	Hyundai CardCompany = "HYUNDAI"
	NH      CardCompany = "NH"
)

const (
	Approved TransactionStatus = "APPROVED"
	Canceled TransactionStatus = "CANCELED"
	Refund   TransactionStatus = "REFUND"
)

const (
	Payment  TransactionType = "PAYMENT"
	Withdraw TransactionType = "WITHDRAW"
	Deposit  TransactionType = "DEPOSIT"
	Transfer TransactionType = "TRANSFER"
)

const (
	Cafe             CategoryCode = "CAFE"
	Food             CategoryCode = "FOOD"
	Transportation   CategoryCode = "TRANSPORTATION"
	Mart             CategoryCode = "MART"
	ConvenienceStore CategoryCode = "CONVENIENCE_STORE"
	Living           CategoryCode = "LIVING"
	Culture          CategoryCode = "CULTURE"
	Etc              CategoryCode = "ETC"
)

type (
	CardCompany       string
	TransactionStatus string
	TransactionType   string
	CategoryCode      string

	User struct {
		ID           int64
		Email        string
		PasswordHash string
		Name         string
		CreatedAt    time.Time
		UpdatedAt    time.Time
		DeletedAt    *time.Time // set while soft-deleted
	}

	Card struct {
		ID        int64
		UserID    int64
		Company   CardCompany
		Number    string
		CreatedAt time.Time
	}

	Category struct {
		ID          int64
		Code        CategoryCode
		DisplayName string
	}

	// Transaction is a card transaction imported into a user's ledger.
	Transaction struct {
		ID                 int64
		UserID             int64
		CardID             int64
		CategoryID         int64
		MerchantID         string
		OriginalMerchantID string
		Amount             decimal.Decimal
		MerchantName       string
		MerchantAddress    string
		TransactionAt      time.Time
		Status             TransactionStatus
		Type               TransactionType

		// Populated by queries that join cards and categories.
		CardNumber   string
		CategoryName string
	}

	// CardTransaction is a record held by the card company.
	CardTransaction struct {
		ID                 int64
		MerchantID         string
		OriginalMerchantID string
		CardNumber         string
		Amount             decimal.Decimal
		MerchantName       string
		MerchantAddress    string
		TransactionAt      time.Time
		Type               TransactionType
		Status             TransactionStatus
	}

	Report struct {
		ID           int64
		UserID       int64
		Month        time.Time // first day of the reported month, UTC
		Message      string
		Notification string
		CreatedAt    time.Time
	}

	// CategorySum aggregates a user's spending in one category.
	CategorySum struct {
		CategoryID   int64
		CategoryName string
		Sum          decimal.Decimal
		Count        int64
	}

	DeadLetter struct {
		ID           int64
		StepName     string
		InputData    string
		ErrorClass   string
		ErrorMessage string
		CreatedAt    time.Time
	}
)

var (
	ErrUnknownCardCompany = errors.New("unknown card company")
	ErrUnknownStatus      = errors.New("unknown transaction status")
	ErrUnknownType        = errors.New("unknown transaction type")
)

var cardCompanyNames = map[CardCompany]string{
	Shinhan: "Shinhan Card",
	Samsung: "Samsung Card",
	Kakao:   "KakaoBank Card",
	Woori:   "Woori Card",
	KB:      "KB Kookmin Card",
	Hana:    "Hana Card",
	Hyundai: "Hyundai Card",
	NH:      "NH NongHyup Card",
}

// CardCompanies lists the supported issuers in display order.
func CardCompanies() []CardCompany {
	return []CardCompany{Shinhan, Samsung, Kakao, Woori, KB, Hana, Hyundai, NH}
}

// ParseCardCompany matches s case-insensitively.
func ParseCardCompany(s string) (CardCompany, error) {
	c := CardCompany(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := cardCompanyNames[c]; !ok {
		return "", ErrUnknownCardCompany
	}
	return c, nil
}

func (c CardCompany) DisplayName() string {
	if name, ok := cardCompanyNames[c]; ok {
		return name
	}
	return string(c)
}

// ParseTransactionStatus matches s case-insensitively.
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch st := TransactionStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case Approved, Canceled, Refund:
		return st, nil
	default:
		return "", ErrUnknownStatus
	}
}

func (s TransactionStatus) DisplayName() string {
	switch s {
	case Approved:
		return "Approved"
	case Canceled:
		return "Canceled"
	case Refund:
		return "Refunded"
	}
	return string(s)
}

// ParseTransactionType matches s case-insensitively.
func ParseTransactionType(s string) (TransactionType, error) {
	switch tt := TransactionType(strings.ToUpper(strings.TrimSpace(s))); tt {
	case Payment, Withdraw, Deposit, Transfer:
		return tt, nil
	default:
		return "", ErrUnknownType
	}
}

// CategoryCodes lists every category an LLM may answer with.
func CategoryCodes() []CategoryCode {
	return []CategoryCode{Cafe, Food, Transportation, Mart, ConvenienceStore, Living, Culture, Etc}
}

// Valid reports whether c is a known category code.
func (c CategoryCode) Valid() bool {
	for _, known := range CategoryCodes() {
		if c == known {
			return true
		}
	}
	return false
}

// IsDeleted reports whether the user is soft-deleted.
func (u User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// Batch execution states.
const (
	ExecutionRunning   = "RUNNING"
	ExecutionCompleted = "COMPLETED"
	ExecutionFailed    = "FAILED"
)

// JobExecution records one run of a batch job.
type JobExecution struct {
	ID          int64
	JobName     string
	JobKey      string
	Params      string
	Status      string
	ReadCount   int
	WriteCount  int
	SkipCount   int
	ExitMessage string
	StartedAt   time.Time
	EndedAt     *time.Time
}
