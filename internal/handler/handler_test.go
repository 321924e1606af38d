package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"giftcard/internal/infrastructure/cache"
	"giftcard/internal/infrastructure/database"
	"giftcard/internal/infrastructure/lock"
	"giftcard/internal/model"
	"giftcard/internal/service"
	"giftcard/pkg/response"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	locker *lock.RedisLocker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.NewRedisLocker(client)
	svc := service.NewCardService(db, locker, cache.NewIdempotencyStore(client),
		service.NewTemplateService(db), service.DefaultOptions())

	now := time.Now()
	require.NoError(t, db.Create(&model.GiftCardTemplate{
		ID:         10,
		Name:       "50元卡",
		FaceValue:  5000,
		TotalStock: 100,
		ValidFrom:  now.Add(-time.Hour),
		ValidTo:    now.Add(24 * time.Hour),
		Status:     model.TemplateStatusActive,
	}).Error)
	require.NoError(t, db.Create(&model.GiftCard{
		ID:         5,
		CardNo:     "8600000000000005",
		UserID:     1,
		TemplateID: 10,
		Balance:    5000,
		ValidFrom:  now.Add(-time.Hour),
		ValidTo:    now.Add(24 * time.Hour),
		Status:     model.CardStatusAvailable,
	}).Error)

	return &testServer{router: SetupRouter(NewHandler(svc)), db: db, locker: locker}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp response.Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestIssueCards_Envelope(t *testing.T) {
	s := newTestServer(t)
	body := gin.H{"user_id": 2, "template_id": 10, "quantity": 2, "request_id": "r1"}

	w, resp := s.do(t, http.MethodPost, "/api/v1/giftcards/issue", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeSuccess, resp.Code)
	data := resp.Data.(map[string]interface{})
	assert.Len(t, data["cards"], 2)
	assert.Equal(t, false, data["duplicate"])

	w, resp = s.do(t, http.MethodPost, "/api/v1/giftcards/issue", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["duplicate"])

	w, resp = s.do(t, http.MethodGet, "/api/v1/giftcards?user_id=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, resp.Data.(map[string]interface{})["total"])
}

func TestLockConsumeUnlockFlow(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, http.MethodPost, "/api/v1/giftcards/5/lock",
		gin.H{"user_id": 1, "order_id": "o1", "lock_amount": 2000, "lock_ttl_seconds": 60})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, response.CodeSuccess, resp.Code)

	// 同一订单重复预占
	w, resp = s.do(t, http.MethodPost, "/api/v1/giftcards/5/lock",
		gin.H{"user_id": 1, "order_id": "o1", "lock_amount": 100, "lock_ttl_seconds": 60})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.CodeLockAlreadyActive, resp.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/giftcards/5/consume",
		gin.H{"user_id": 1, "order_id": "o1", "consume_amount": 500, "idempotency_key": "k1"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, resp = s.do(t, http.MethodPost, "/api/v1/giftcards/5/consume",
		gin.H{"user_id": 1, "order_id": "o1", "consume_amount": 500, "idempotency_key": "k1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["duplicate"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/giftcards/5/unlock", gin.H{"user_id": 1, "order_id": "o1"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = s.do(t, http.MethodPost, "/api/v1/giftcards/5/unlock", gin.H{"user_id": 1, "order_id": "o1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(service.ReasonLockNotFound), resp.Message)

	w, resp = s.do(t, http.MethodGet, "/api/v1/giftcards/5", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 4500, resp.Data.(map[string]interface{})["balance"])

	w, resp = s.do(t, http.MethodGet, "/api/v1/giftcards/5/consumptions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data.(map[string]interface{})["list"], 1)

	w, resp = s.do(t, http.MethodGet, "/api/v1/giftcards/5/locks", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data.(map[string]interface{})["list"], 1)
}

func TestLockCard_BusyMapsTo429(t *testing.T) {
	s := newTestServer(t)

	ok, err := s.locker.TryAcquire(context.Background(), lock.CardLockKey(5), "other", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	w, resp := s.do(t, http.MethodPost, "/api/v1/giftcards/5/lock",
		gin.H{"user_id": 1, "order_id": "o1", "lock_amount": 100, "lock_ttl_seconds": 60})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, response.CodeSystemBusy, resp.Code)
}

func TestFreezeBlocksLock(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodPost, "/api/v1/giftcards/5/freeze", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := s.do(t, http.MethodPost, "/api/v1/giftcards/5/lock",
		gin.H{"user_id": 1, "order_id": "o1", "lock_amount": 100, "lock_ttl_seconds": 60})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.CodeCardNotAvailable, resp.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/giftcards/5/unfreeze", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParamErrors(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		method string
		path   string
		body   interface{}
		status int
	}{
		{http.MethodGet, "/api/v1/giftcards/abc", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/giftcards/0", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/giftcards/99", nil, http.StatusNotFound},
		{http.MethodGet, "/api/v1/giftcards?user_id=x", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/giftcards?user_id=1&status=lost", nil, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/giftcards/5/lock", gin.H{"user_id": 1, "order_id": "o1", "lock_amount": 0, "lock_ttl_seconds": 60}, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/giftcards/issue", gin.H{"user_id": 1, "template_id": 10, "quantity": 1}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		w, resp := s.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, tc.status, w.Code, tc.path)
		assert.NotEqual(t, response.CodeSuccess, resp.Code, tc.path)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "giftcard_http_requests_total")
}
