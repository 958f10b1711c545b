package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/digkill/WeddingAI/internal/models"
	"github.com/digkill/WeddingAI/internal/repository/memory"
	"github.com/digkill/WeddingAI/internal/service"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	log := zerolog.New(io.Discard)
	store := memory.New()
	ledger := service.NewCreditLedger(log, store.Credits())
	plans := service.NewPlanService(store.Plans(), "RUB")
	srv := NewServer(":0", "admin", string(hash), log, Deps{
		Users:     service.NewUserService(log, store.Users(), ledger, 0),
		Ledger:    ledger,
		Plans:     plans,
		Promos:    service.NewPromoService(store.Promos(), ledger),
		Purchases: service.NewPurchaseService(log, store.Payments(), plans, ledger),
	})
	return srv, store
}

func call(t *testing.T, srv *Server, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.SetBasicAuth("admin", "s3cret")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestBasicAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := call(t, srv, http.MethodGet, "/plans", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/plans", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, srv, http.MethodGet, "/plans", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGrantCredits(t *testing.T) {
	srv, store := newTestServer(t)
	store.SetBalance("u1", 2)

	rec := call(t, srv, http.MethodPost, "/users/u1/credits", `{"amount":5,"reason":"support","grant_id":"ticket-7"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 7, out["balance"])

	rec = call(t, srv, http.MethodPost, "/users/u1/credits", `{"amount":5,"reason":"support","grant_id":"ticket-7"}`, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, srv, http.MethodPost, "/users/u1/credits", `{"amount":0,"reason":"support"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	txs := store.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, models.TxBonus, txs[0].Type)
	assert.Equal(t, models.RefAdmin, txs[0].ReferenceType)
}

func TestRecordPurchase(t *testing.T) {
	srv, store := newTestServer(t)
	store.SetBalance("u1", 1)

	rec := call(t, srv, http.MethodPost, "/plans", `{"title":"Starter","price_minor_units":49000,"credits":20}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var plan models.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, "RUB", plan.Currency)

	body := `{"user_id":"u1","plan_id":` + jsonInt(plan.ID) + `,"provider":"yookassa","charge_id":"ch_1"}`
	rec = call(t, srv, http.MethodPost, "/purchases", body, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"balance":21`)

	rec = call(t, srv, http.MethodPost, "/purchases", body, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicate":true`)

	rec = call(t, srv, http.MethodGet, "/users/u1/reconcile", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var report service.ReconcileReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 21, report.StoredBalance)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
