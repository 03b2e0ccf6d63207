package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"budget_system/internal/config"
	"budget_system/internal/db/dbtest"
	"budget_system/internal/domain"
	"budget_system/internal/service"
	"budget_system/internal/transcribe"
	"budget_system/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEngine struct {
	result  transcribe.Result
	err     error
	pingErr error
	calls   int
}

func (f *fakeEngine) Transcribe(_ context.Context, _ []byte, _ time.Duration, language string) (transcribe.Result, error) {
	f.calls++
	res := f.result
	res.Language = language
	return res, f.err
}

func (f *fakeEngine) Ping(context.Context) error { return f.pingErr }

type harness struct {
	t      *testing.T
	db     *gorm.DB
	router *gin.Engine
	engine *fakeEngine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb := dbtest.New(t)
	cache := utils.NewMemoryCache()
	access := service.NewAccess(gdb)
	cfg := &config.Config{
		JWTSecret:             "test-secret",
		JWTTTL:                time.Hour,
		DefaultPageSize:       10,
		MaxPageSize:           100,
		TranscriberModel:      "fake",
		MaxAudioSeconds:       60,
		MaxAudioMB:            10,
		TranscriptionLanguage: "es",
	}
	engine := &fakeEngine{result: transcribe.Result{Text: "veinte euros en comida", Duration: 1}}
	router := SetupRouter(cfg, Deps{
		DB:           gdb,
		Cache:        cache,
		Users:        service.NewUserService(gdb, cache, time.Minute),
		Budgets:      service.NewBudgetService(gdb, access),
		Transactions: service.NewTransactionService(gdb),
		Recurring:    service.NewRecurringService(gdb),
		Sync:         service.NewSyncService(gdb),
		Transcriber:  engine,
	})
	return &harness{t: t, db: gdb, router: router, engine: engine}
}

func (h *harness) send(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return h.send(req, token)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type account struct {
	ID    string
	Token string
}

func (h *harness) register(name string) account {
	h.t.Helper()
	w := h.do(http.MethodPost, "/auth/register", "", gin.H{
		"name": name, "email": name + "@example.com", "password": "correct-horse",
	})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[AuthResponse](h.t, w)
	return account{ID: res.User.ID, Token: res.AccessToken}
}

func (h *harness) createBudget(owner account) string {
	h.t.Helper()
	w := h.do(http.MethodPost, "/budgets", owner.Token, gin.H{"name": "Household"})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[map[string]any](h.t, w)["id"].(string)
}

func TestRegisterLoginAndProfile(t *testing.T) {
	h := newHarness(t)
	ana := h.register("ana")

	w := h.do(http.MethodPost, "/auth/login", "", gin.H{"email": "ana@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code)
	login := decode[AuthResponse](t, w)
	assert.Equal(t, "bearer", login.TokenType)
	assert.Equal(t, int64(3600), login.ExpiresIn)

	w = h.do(http.MethodPost, "/auth/login", "", gin.H{"email": "ana@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodGet, "/users/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[map[string]any](t, w)
	assert.Equal(t, ana.ID, me["id"])
	assert.NotContains(t, me, "password_hash")

	w = h.do(http.MethodGet, "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/auth/register", "", gin.H{"name": "Dup", "email": "ana@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = h.do(http.MethodPost, "/auth/register", "", gin.H{"name": "Short", "email": "s@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeletedAccountTokenIsRefused(t *testing.T) {
	h := newHarness(t)
	ana := h.register("ana")

	w := h.do(http.MethodDelete, "/users/me", ana.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(http.MethodGet, "/users/me", ana.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAccountCheckReadsTheStore(t *testing.T) {
	h := newHarness(t)
	ana, bo := h.register("ana"), h.register("bo")
	for _, a := range []account{ana, bo} {
		require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/users/me", a.Token, nil).Code) // Profile now cached
	}

	// Removed by another process holding its own cache, as the operator CLI does
	other := service.NewUserService(h.db, utils.NewMemoryCache(), time.Minute)
	require.NoError(t, other.Delete(context.Background(), ana.ID))
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/users/me", ana.Token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/budgets", ana.Token, gin.H{"name": "Ghost"}).Code)

	require.NoError(t, h.db.Model(&domain.User{}).Where("id = ?", bo.ID).Update("is_active", false).Error)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/users/me", bo.Token, nil).Code)
}

func TestBudgetCollaboration(t *testing.T) {
	h := newHarness(t)
	alice, bob, mallory := h.register("alice"), h.register("bob"), h.register("mallory")
	budgetID := h.createBudget(alice)

	w := h.do(http.MethodPost, "/budgets/"+budgetID+"/members", alice.Token, gin.H{"user_id": bob.ID, "role": "viewer"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	expense := gin.H{"budget_id": budgetID, "amount": "12.50", "type": "expense", "category": "Food", "date": "2025-03-14"}
	w = h.do(http.MethodPost, "/transactions", bob.Token, expense)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = h.do(http.MethodPost, "/transactions", mallory.Token, expense)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodPost, "/transactions", alice.Token, expense)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = h.do(http.MethodGet, "/transactions?budget_id="+budgetID, bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["total"])

	w = h.do(http.MethodGet, "/budgets/"+budgetID, mallory.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodGet, "/budgets/"+budgetID+"/members", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string][]any](t, w)["members"], 2)

	w = h.do(http.MethodDelete, "/budgets/"+budgetID+"/members/"+alice.ID, alice.Token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(http.MethodPost, "/budgets/"+budgetID+"/archive", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(http.MethodPost, "/budgets/"+budgetID+"/archive", alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)
	alice := h.register("alice")
	budgetID := h.createBudget(alice)

	w := h.do(http.MethodPost, "/budgets", alice.Token, gin.H{"name": "Trip", "currency": "euro"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "currency binding rule")

	w = h.do(http.MethodPost, "/transactions", alice.Token, gin.H{
		"budget_id": budgetID, "amount": "-4", "type": "expense", "category": "Food", "date": "2025-03-14",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/transactions", alice.Token, gin.H{
		"budget_id": budgetID, "amount": "4", "type": "expense", "category": "Food", "date": "14/03/2025",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodGet, "/sync/pull?since=yesterday", alice.Token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncOverHTTP(t *testing.T) {
	h := newHarness(t)
	alice := h.register("alice")
	budgetID := h.createBudget(alice)
	txID := uuid.NewString()
	at := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	w := h.do(http.MethodPost, "/sync/push", alice.Token, gin.H{"transactions": []gin.H{{
		"id": txID, "budget_id": budgetID, "amount": "9.99", "currency": "USD", "type": "expense",
		"category": "Books", "date": "2025-03-01", "updated_at": at.Format(time.RFC3339Nano),
	}}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[service.PushResult](t, w).Processed)

	since := at.Add(-time.Second).Format(time.RFC3339Nano)
	w = h.do(http.MethodGet, "/sync/pull?since="+since, alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	pulled := decode[struct {
		Transactions []map[string]any `json:"transactions"`
	}](t, w)
	require.Len(t, pulled.Transactions, 1)
	assert.Equal(t, txID, pulled.Transactions[0]["id"])

	w = h.do(http.MethodGet, "/sync/status", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.HealthHealthy, decode[service.StatusReport](t, w).SyncHealth)

	w = h.do(http.MethodPost, "/sync/conflicts/resolve", alice.Token, gin.H{"resolutions": gin.H{uuid.NewString(): "mine"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// tinyWAV is a one second 8 kHz mono clip
func tinyWAV() []byte {
	const rate = 8000
	buf := make([]byte, 44+rate)
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+rate))
	copy(buf[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], 1)
	binary.LittleEndian.PutUint32(buf[24:], rate)
	binary.LittleEndian.PutUint32(buf[28:], rate)
	binary.LittleEndian.PutUint16(buf[32:], 1)
	binary.LittleEndian.PutUint16(buf[34:], 8)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], rate)
	return buf
}

func (h *harness) upload(token, contentType string, audio []byte) *httptest.ResponseRecorder {
	h.t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="audio_file"; filename="note.wav"`},
		"Content-Type":        {contentType},
	})
	require.NoError(h.t, err)
	_, err = part.Write(audio)
	require.NoError(h.t, err)
	require.NoError(h.t, form.Close())
	req := httptest.NewRequest(http.MethodPost, "/transcription/transcribe", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	return h.send(req, token)
}

func TestTranscriptionEndpoints(t *testing.T) {
	h := newHarness(t)
	alice := h.register("alice")

	w := h.upload(alice.Token, "audio/wav", tinyWAV())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[transcribe.Result](t, w)
	assert.Equal(t, "veinte euros en comida", res.Text)
	assert.Equal(t, "es", res.Language)

	w = h.upload(alice.Token, "image/png", tinyWAV())
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	w = h.upload(alice.Token, "audio/wav", []byte("%PDF-1.7 not audio"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, 1, h.engine.calls, "rejected uploads never reach the engine")

	h.engine.err = transcribe.ErrUnavailable
	w = h.upload(alice.Token, "audio/wav", tinyWAV())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = h.do(http.MethodGet, "/transcription/supported-formats", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[[]string](t, w), "audio/wav")

	h.engine.pingErr = transcribe.ErrUnavailable
	w = h.do(http.MethodGet, "/transcription/service-status", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[map[string]any](t, w)
	assert.Equal(t, false, status["available"])
	assert.EqualValues(t, 60, status["max_duration_seconds"])
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, w)["status"])
}

func TestPageBoundsComeFromConfig(t *testing.T) {
	h := newHarness(t)
	ana := h.register("ana")

	type listing struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	w := h.do(http.MethodGet, "/transactions", ana.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 10, decode[listing](t, w).Limit)

	w = h.do(http.MethodGet, "/transactions?limit=500&offset=3", ana.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[listing](t, w)
	assert.Equal(t, 100, got.Limit)
	assert.Equal(t, 3, got.Offset)
}
