package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/digkill/WeddingAI/internal/models"
	"github.com/digkill/WeddingAI/internal/service"
	"github.com/digkill/WeddingAI/internal/worker"
)

type Server struct {
	addr         string
	username     string
	passwordHash []byte
	log          zerolog.Logger
	validate     *validator.Validate
	users        *service.UserService
	ledger       service.Ledger
	plans        *service.PlanService
	promos       *service.PromoService
	purchases    *service.PurchaseService
	jobs         *service.JobService
	sweeper      *worker.Sweeper
	router       *chi.Mux
}

type Deps struct {
	Users     *service.UserService
	Ledger    service.Ledger
	Plans     *service.PlanService
	Promos    *service.PromoService
	Purchases *service.PurchaseService
	Jobs      *service.JobService
	Sweeper   *worker.Sweeper
}

// NewServer builds the operator API. passwordHash is a bcrypt hash.
func NewServer(addr, username, passwordHash string, log zerolog.Logger, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:         addr,
		username:     username,
		passwordHash: []byte(passwordHash),
		log:          log.With().Str("component", "admin").Logger(),
		validate:     validator.New(),
		users:        deps.Users,
		ledger:       deps.Ledger,
		plans:        deps.Plans,
		promos:       deps.Promos,
		purchases:    deps.Purchases,
		jobs:         deps.Jobs,
		sweeper:      deps.Sweeper,
		router:       r,
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Route("/plans", func(r chi.Router) {
			r.Get("/", s.handleListPlans)
			r.Post("/", s.handleCreatePlan)
			r.Put("/{id}", s.handleUpdatePlan)
			r.Delete("/{id}", s.handleDeletePlan)
		})
		protected.Route("/promo-codes", func(r chi.Router) {
			r.Get("/", s.handleListPromos)
			r.Post("/", s.handleCreatePromo)
			r.Put("/{id}", s.handleUpdatePromo)
			r.Delete("/{id}", s.handleDeletePromo)
		})
		protected.Post("/purchases", s.handleRecordPurchase)
		protected.Route("/users/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetUser)
			r.Post("/credits", s.handleGrantCredits)
			r.Get("/transactions", s.handleUserTransactions)
			r.Get("/reconcile", s.handleReconcile)
		})
		protected.Get("/jobs/{id}", s.handleGetJob)
		protected.Post("/jobs/{id}/complete", s.handleCompleteJob)
		protected.Post("/jobs/sweep", s.handleSweep)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("admin shutdown error")
		}
	}()

	s.log.Info().Str("addr", s.addr).Msg("admin api listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !s.decode(w, r, &req) {
		return
	}
	input := service.CreatePlanInput{
		Title:           req.Title,
		Description:     req.Description,
		Currency:        req.Currency,
		PriceMinorUnits: req.PriceMinorUnits,
		Credits:         req.Credits,
		IsActive:        req.IsActive,
	}
	if err := s.validate.Struct(input); err != nil {
		s.badRequest(w, err)
		return
	}
	plan, err := s.plans.Create(r.Context(), input)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req planUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	plan, err := s.plans.Update(r.Context(), id, service.UpdatePlanInput{
		Title:           req.Title,
		Description:     req.Description,
		Currency:        req.Currency,
		PriceMinorUnits: req.PriceMinorUnits,
		Credits:         req.Credits,
		IsActive:        req.IsActive,
	})
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.plans.Delete(r.Context(), id); err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPromos(w http.ResponseWriter, r *http.Request) {
	promos, err := s.promos.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promos)
}

func (s *Server) handleCreatePromo(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if !s.decode(w, r, &req) {
		return
	}
	input := service.PromoInput{Code: req.Code, Credits: req.Credits, MaxUses: req.MaxUses}
	if err := s.validate.Struct(input); err != nil {
		s.badRequest(w, err)
		return
	}
	promo, err := s.promos.Create(r.Context(), input)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, promo)
}

func (s *Server) handleUpdatePromo(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req promoRequest
	if !s.decode(w, r, &req) {
		return
	}
	input := service.PromoInput{Code: req.Code, Credits: req.Credits, MaxUses: req.MaxUses}
	if err := s.validate.Struct(input); err != nil {
		s.badRequest(w, err)
		return
	}
	promo, err := s.promos.Update(r.Context(), id, input)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promo)
}

func (s *Server) handleDeletePromo(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.promos.Delete(r.Context(), id); err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRecordPurchase books a settled payment reported by the billing
// integration.
func (s *Server) handleRecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	input := service.PurchaseInput{UserID: req.UserID, PlanID: req.PlanID, Provider: req.Provider, ChargeID: req.ChargeID}
	if err := s.validate.Struct(input); err != nil {
		s.badRequest(w, err)
		return
	}
	payment, balance, err := s.purchases.Record(r.Context(), input)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyApplied) {
			s.writeJSON(w, http.StatusOK, map[string]any{"payment": payment, "duplicate": true})
			return
		}
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"payment": payment, "balance": balance})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleGrantCredits(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.badRequest(w, err)
		return
	}
	txType := models.TxBonus
	if strings.EqualFold(req.Type, string(models.TxPurchase)) {
		txType = models.TxPurchase
	}
	grantID := req.GrantID
	if grantID == "" {
		grantID = middleware.GetReqID(r.Context())
	}
	userID := chi.URLParam(r, "id")
	balance, err := s.ledger.Grant(r.Context(), userID, req.Amount, txType, service.Reference{
		Type:        models.RefAdmin,
		ID:          grantID,
		Description: req.Reason,
	})
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.log.Info().Str("user_id", userID).Int("amount", req.Amount).Str("reason", req.Reason).Msg("credits granted")
	s.writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (s *Server) handleUserTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := s.ledger.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), "", chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.CompleteJob(r.Context(), "", chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, ran, err := s.sweeper.RunOnce(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ran": ran, "closed": res.Closed, "released": res.Released})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || bcrypt.CompareHashAndPassword(s.passwordHash, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="wedding-ai"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUserNotFound), errors.Is(err, models.ErrJobNotFound),
		errors.Is(err, service.ErrPlanNotFound), errors.Is(err, service.ErrPromoInvalid):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrAlreadyApplied):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrInvalidAmount):
		s.badRequest(w, err)
	default:
		s.internalError(w, err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("admin handler error")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

type planRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Currency        string `json:"currency"`
	PriceMinorUnits int    `json:"price_minor_units"`
	Credits         int    `json:"credits"`
	IsActive        *bool  `json:"is_active"`
}

type planUpdateRequest struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Currency        *string `json:"currency"`
	PriceMinorUnits *int    `json:"price_minor_units"`
	Credits         *int    `json:"credits"`
	IsActive        *bool   `json:"is_active"`
}

type promoRequest struct {
	Code    string `json:"code"`
	Credits int    `json:"credits"`
	MaxUses int    `json:"max_uses"`
}

type purchaseRequest struct {
	UserID   string `json:"user_id"`
	PlanID   int64  `json:"plan_id"`
	Provider string `json:"provider"`
	ChargeID string `json:"charge_id"`
}

type grantRequest struct {
	Amount int    `json:"amount" validate:"required,min=1"`
	Type   string `json:"type" validate:"omitempty,oneof=BONUS PURCHASE bonus purchase"`
	Reason string `json:"reason" validate:"required"`
	// GrantID makes a retried grant idempotent. Defaults to the request id.
	GrantID string `json:"grant_id"`
}
