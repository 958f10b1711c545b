package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Style string

const (
	StyleClassic   Style = "CLASSIC"
	StyleModern    Style = "MODERN"
	StyleVintage   Style = "VINTAGE"
	StyleRomantic  Style = "ROMANTIC"
	StyleCinematic Style = "CINEMATIC"
	StyleFairytale Style = "FAIRYTALE"
)

var Styles = []Style{StyleClassic, StyleModern, StyleVintage, StyleRomantic, StyleCinematic, StyleFairytale}

func (s Style) Valid() bool {
	for _, v := range Styles {
		if v == s {
			return true
		}
	}
	return false
}

type Role string

const (
	RoleGroom  Role = "GROOM"
	RoleBride  Role = "BRIDE"
	RoleCouple Role = "COUPLE"
)

// Valid reports whether r is an allowed role. COUPLE is only accepted for
// two-person flows.
func (r Role) Valid(allowCouple bool) bool {
	switch r {
	case RoleGroom, RoleBride:
		return true
	case RoleCouple:
		return allowCouple
	default:
		return false
	}
}

type TransactionType string

const (
	TxDeduct   TransactionType = "DEDUCT"
	TxRefund   TransactionType = "REFUND"
	TxPurchase TransactionType = "PURCHASE"
	TxBonus    TransactionType = "BONUS"
)

type ReferenceType string

const (
	RefGeneration ReferenceType = "GENERATION"
	RefJob        ReferenceType = "JOB"
	RefSignup     ReferenceType = "SIGNUP"
	RefPromo      ReferenceType = "PROMO"
	RefPayment    ReferenceType = "PAYMENT"
	RefAdmin      ReferenceType = "ADMIN"
)

type JobMode string

const (
	JobModeSingle JobMode = "SINGLE"
	JobModeBatch  JobMode = "BATCH"
)

type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobPartial    JobStatus = "PARTIAL"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobPartial
}

// FinalJobStatus maps counters of a finished job onto its terminal status.
func FinalJobStatus(completed, total int) JobStatus {
	switch {
	case completed <= 0:
		return JobFailed
	case completed >= total:
		return JobCompleted
	default:
		return JobPartial
	}
}

type GenerationStatus string

const (
	GenerationCompleted GenerationStatus = "COMPLETED"
	GenerationFailed    GenerationStatus = "FAILED"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AICredits int       `json:"aiCredits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreditTransaction struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Type          TransactionType `json:"type"`
	Amount        int             `json:"amount"`
	BalanceAfter  int             `json:"balanceAfter"`
	ReferenceType ReferenceType   `json:"referenceType,omitempty"`
	ReferenceID   string          `json:"referenceId,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// SignedAmount is the balance delta this transaction applied.
func (t CreditTransaction) SignedAmount() int {
	if t.Type == TxDeduct {
		return -t.Amount
	}
	return t.Amount
}

// CreditMutation is a single balance change together with the audit row that
// explains it. Delta is negative for DEDUCT and positive otherwise.
type CreditMutation struct {
	TransactionID string
	UserID        string
	Delta         int
	Type          TransactionType
	ReferenceType ReferenceType
	ReferenceID   string
	Description   string
}

type JobConfig struct {
	Styles            []Style         `json:"styles"`
	Roles             []Role          `json:"roles"`
	ModelID           string          `json:"modelId"`
	ReferencePhotoIDs map[Role]string `json:"referencePhotoIds"`
	ReferenceURLs     map[Role]string `json:"referenceUrls"`
}

type GenerationJob struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	AlbumID         string     `json:"albumId,omitempty"`
	Mode            JobMode    `json:"mode"`
	Config          JobConfig  `json:"config"`
	TotalImages     int        `json:"totalImages"`
	CreditsReserved int        `json:"creditsReserved"`
	CreditsUsed     int        `json:"creditsUsed"`
	CompletedImages int        `json:"completedImages"`
	FailedImages    int        `json:"failedImages"`
	Status          JobStatus  `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// Surplus is the part of the reservation that was not consumed.
func (j *GenerationJob) Surplus() int {
	if d := j.CreditsReserved - j.CreditsUsed; d > 0 {
		return d
	}
	return 0
}

type Generation struct {
	ID            string           `json:"id"`
	UserID        string           `json:"userId"`
	AlbumID       string           `json:"albumId,omitempty"`
	JobID         string           `json:"jobId,omitempty"`
	OriginalURL   string           `json:"originalUrl"`
	Style         Style            `json:"style"`
	Role          Role             `json:"role"`
	ModelID       string           `json:"modelId"`
	GeneratedURLs []string         `json:"generatedUrls"`
	Status        GenerationStatus `json:"status"`
	CreditsUsed   int              `json:"creditsUsed"`
	Cost          decimal.Decimal  `json:"cost"`
	ProviderJobID string           `json:"providerJobId,omitempty"`
	ErrorMessage  string           `json:"errorMessage,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
}

type GenerationFilter struct {
	UserID  string
	JobID   string
	AlbumID string
	Limit   int
}

type ReferencePhoto struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Role         Role      `json:"role"`
	OriginalURL  string    `json:"originalUrl"`
	StorageKey   string    `json:"-"`
	FaceDetected bool      `json:"faceDetected"`
	FaceCount    int       `json:"faceCount"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

type PromoCode struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Credits   int       `json:"credits"`
	MaxUses   int       `json:"maxUses"`
	Uses      int       `json:"uses"`
	CreatedAt time.Time `json:"createdAt"`
}

type Plan struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Currency        string    `json:"currency"`
	PriceMinorUnits int       `json:"priceMinorUnits"`
	Credits         int       `json:"credits"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type Payment struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"userId"`
	PlanID         *int64    `json:"planId,omitempty"`
	Provider       string    `json:"provider"`
	ProviderCharge string    `json:"providerCharge"`
	Currency       string    `json:"currency"`
	Amount         int       `json:"amount"`
	Credits        int       `json:"credits"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}
