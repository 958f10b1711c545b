package service

import (
	"context"
	"time"

	"github.com/digkill/WeddingAI/internal/facedetect"
	"github.com/digkill/WeddingAI/internal/kie"
	"github.com/digkill/WeddingAI/internal/models"
	"github.com/digkill/WeddingAI/internal/storage"
)

// The interfaces below are satisfied by the MySQL repositories and by the
// in-memory store.

type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (bool, error)
	UpdateProfile(ctx context.Context, userID, email, name string) error
}

type CreditStore interface {
	Apply(ctx context.Context, m models.CreditMutation) (int, error)
	Balance(ctx context.Context, userID string) (int, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error)
}

type JobStore interface {
	Create(ctx context.Context, job *models.GenerationJob) error
	GetByID(ctx context.Context, id string) (*models.GenerationJob, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	IncrementCompleted(ctx context.Context, id string) (bool, error)
	IncrementFailed(ctx context.Context, id string) (bool, error)
	Finalize(ctx context.Context, id string, force bool) (bool, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]models.GenerationJob, error)
	ListUnreleased(ctx context.Context, limit int) ([]models.GenerationJob, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.GenerationJob, error)
}

type GenerationStore interface {
	Insert(ctx context.Context, g *models.Generation) error
	List(ctx context.Context, f models.GenerationFilter) ([]models.Generation, error)
}

type ReferencePhotoStore interface {
	Activate(ctx context.Context, photo *models.ReferencePhoto) error
	FindActive(ctx context.Context, userID string, role models.Role) (*models.ReferencePhoto, error)
	ListActive(ctx context.Context, userID string) ([]models.ReferencePhoto, error)
}

type PromoStore interface {
	GetByCode(ctx context.Context, code string) (*models.PromoCode, error)
	GetByID(ctx context.Context, id int64) (*models.PromoCode, error)
	List(ctx context.Context) ([]models.PromoCode, error)
	Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error)
	Update(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error)
	Delete(ctx context.Context, id int64) error
	ClaimUse(ctx context.Context, promoID int64) error
	ReturnUse(ctx context.Context, promoID int64) error
}

type PlanStore interface {
	List(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	GetByID(ctx context.Context, id int64) (*models.Plan, error)
	Create(ctx context.Context, plan *models.Plan) (*models.Plan, error)
	Update(ctx context.Context, plan *models.Plan) (*models.Plan, error)
	Delete(ctx context.Context, id int64) error
}

type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	UpdateStatus(ctx context.Context, paymentID int64, status string) error
	FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error)
}

// AssetStore persists uploaded and generated images.
type AssetStore interface {
	Upload(ctx context.Context, data []byte, contentType, prefix string) (*storage.Object, error)
	Delete(ctx context.Context, keys []string) (int, error)
}

// Generator runs image generation on the external provider.
type Generator interface {
	Generate(ctx context.Context, req kie.Request) (*kie.Result, error)
	GenerateStream(ctx context.Context, req kie.Request, onImage func(index int, url string)) (*kie.Result, error)
}

type FaceDetector interface {
	Detect(ctx context.Context, data []byte, contentType string) (*facedetect.Result, error)
}
