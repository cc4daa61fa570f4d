package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"taskmaster/internal/config"
	"taskmaster/internal/model"
	"taskmaster/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type fakeUserStore struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*model.User

	createErr error
	saveErr   error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[uint]*model.User{}}
}

func (s *fakeUserStore) GetUserByID(_ context.Context, id uint) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeUserStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeUserStore) GetUserByVerificationToken(_ context.Context, token string, now time.Time) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" {
		return nil, gorm.ErrRecordNotFound
	}
	for _, u := range s.users {
		if u.VerificationToken == token && u.VerificationExpiresAt != nil && u.VerificationExpiresAt.After(now) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeUserStore) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.nextID++
	user.ID = s.nextID
	user.CreatedAt = time.Now()
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *fakeUserStore) SaveUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *fakeUserStore) get(id uint) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

type recordingMailer struct {
	mu         sync.Mutex
	tokens     []string
	welcomes   []string
	verifyErr  error
	welcomeErr error
}

func (m *recordingMailer) SendVerificationEmail(to string, name string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verifyErr != nil {
		return m.verifyErr
	}
	m.tokens = append(m.tokens, token)
	return nil
}

func (m *recordingMailer) SendWelcomeEmail(to string, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.welcomeErr != nil {
		return m.welcomeErr
	}
	m.welcomes = append(m.welcomes, to)
	return nil
}

func (m *recordingMailer) lastToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tokens) == 0 {
		return ""
	}
	return m.tokens[len(m.tokens)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			FrontendURL: "http://front.test",
		},
		Security: config.SecurityConfig{
			JWTSecret:       "test_secret",
			TokenTTL:        time.Hour,
			VerificationTTL: 24 * time.Hour,
			ResendCooldown:  time.Minute,
		},
	}
}

func newTestRouter(t *testing.T, store *fakeUserStore, mailer *recordingMailer) (*gin.Engine, *Handler) {
	t.Helper()
	metrics.InitMetrics()
	gin.SetMode(gin.TestMode)

	h := NewHandler(store, testConfig(), mailer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := gin.New()
	r.POST("/api/v1/auth/register", h.Register)
	r.POST("/api/v1/auth/login", h.Login)
	r.GET("/api/v1/auth/verify-email/:token", h.VerifyEmail)
	r.POST("/api/v1/auth/resend-verification", h.ResendVerification)
	return r, h
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	store := newFakeUserStore()
	mailer := &recordingMailer{}
	r, _ := newTestRouter(t, store, mailer)

	// 注册
	rec := doJSON(r, http.MethodPost, "/api/v1/auth/register", gin.H{
		"name":     "Alice Smith",
		"email":    "Alice@Example.com",
		"password": "Passw0rd",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]any)
	if data["requiresVerification"] != true || data["emailSent"] != true {
		t.Fatalf("unexpected register data: %v", data)
	}
	userData := data["user"].(map[string]any)
	if userData["email"] != "alice@example.com" {
		t.Fatalf("email not normalized: %v", userData["email"])
	}
	if _, leaked := userData["password"]; leaked {
		t.Fatal("password leaked in response")
	}
	token := mailer.lastToken()
	if len(token) != 64 {
		t.Fatalf("expected 64-char hex token, got %q", token)
	}

	// 未验证前登录被拒
	rec = doJSON(r, http.MethodPost, "/api/v1/auth/login", gin.H{
		"email":    "alice@example.com",
		"password": "Passw0rd",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unverified login status = %d", rec.Code)
	}
	if body = decodeEnvelope(t, rec); body["requiresVerification"] != true {
		t.Fatalf("expected requiresVerification flag, got %v", body)
	}

	// 验证邮箱：302 跳转到前端
	rec = doJSON(r, http.MethodGet, "/api/v1/auth/verify-email/"+token, nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("verify status = %d", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "http://front.test/verify-email?") || !strings.Contains(loc, "status=success") {
		t.Fatalf("unexpected redirect: %s", loc)
	}

	stored := store.get(1)
	if !stored.IsVerified || stored.VerificationToken != "" || stored.VerificationExpiresAt != nil {
		t.Fatalf("verification state not cleared: %+v", stored)
	}

	// 验证后登录成功
	rec = doJSON(r, http.MethodPost, "/api/v1/auth/login", gin.H{
		"email":    "alice@example.com",
		"password": "Passw0rd",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body = decodeEnvelope(t, rec)
	data = body["data"].(map[string]any)
	if data["token"] == "" || data["token"] == nil {
		t.Fatal("expected JWT in login response")
	}
}

func TestVerifyTokenSingleUse(t *testing.T) {
	store := newFakeUserStore()
	mailer := &recordingMailer{}
	r, _ := newTestRouter(t, store, mailer)

	doJSON(r, http.MethodPost, "/api/v1/auth/register", gin.H{
		"name":     "Bob Jones",
		"email":    "bob@example.com",
		"password": "Passw0rd",
	})
	token := mailer.lastToken()

	rec := doJSON(r, http.MethodGet, "/api/v1/auth/verify-email/"+token, nil)
	if rec.Code != http.StatusFound || !strings.Contains(rec.Header().Get("Location"), "status=success") {
		t.Fatalf("first verify failed: %d %s", rec.Code, rec.Header().Get("Location"))
	}

	// 再次使用同一令牌：error 跳转，状态不变
	rec = doJSON(r, http.MethodGet, "/api/v1/auth/verify-email/"+token, nil)
	if rec.Code != http.StatusFound || !strings.Contains(rec.Header().Get("Location"), "status=error") {
		t.Fatalf("reused token should fail: %d %s", rec.Code, rec.Header().Get("Location"))
	}
	if !store.get(1).IsVerified {
		t.Fatal("user should remain verified")
	}
}

func TestVerifyTokenExpiryIsStrict(t *testing.T) {
	store := newFakeUserStore()
	mailer := &recordingMailer{}
	r, _ := newTestRouter(t, store, mailer)

	doJSON(r, http.MethodPost, "/api/v1/auth/register", gin.H{
		"name":     "Cara Lane",
		"email":    "cara@example.com",
		"password": "Passw0rd",
	})
	token := mailer.lastToken()

	// 把过期时间拨到过去：过期令牌无效
	past := time.Now().Add(-time.Second)
	u := store.get(1)
	u.VerificationExpiresAt = &past
	_ = store.SaveUser(context.Background(), u)

	rec := doJSON(r, http.MethodGet, "/api/v1/auth/verify-email/"+token, nil)
	if !strings.Contains(rec.Header().Get("Location"), "status=error") {
		t.Fatalf("expired token should fail: %s", rec.Header().Get("Location"))
	}
	if store.get(1).IsVerified {
		t.Fatal("expired token must not verify the account")
	}
}

func TestResendVerificationInvalidatesOldToken(t *testing.T) {
	store := newFakeUserStore()
	mailer := &recordingMailer{}
	r, _ := newTestRouter(t, store, mailer)

	doJSON(r, http.MethodPost, "/api/v1/auth/register", gin.H{
		"name":     "Dan Park",
		"email":    "dan@example.com",
		"password": "Passw0rd",
	})
	oldToken := mailer.lastToken()

	// 冷却期内重发：429 + retry_after
	rec := doJSON(r, http.MethodPost, "/api/v1/auth/resend-verification", gin.H{"email": "dan@example.com"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 within cooldown, got %d", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	if _, ok := body["retry_after"]; !ok {
		t.Fatalf("expected retry_after in response: %v", body)
	}

	// 冷却期过后重发成功，旧令牌失效
	u := store.get(1)
	sent := time.Now().Add(-2 * time.Minute)
	u.VerificationSentAt = &sent
	_ = store.SaveUser(context.Background(), u)

	rec = doJSON(r, http.MethodPost, "/api/v1/auth/resend-verification", gin.H{"email": "dan@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("resend status = %d, body = %s", rec.Code, rec.Body.String())
	}
	newToken := mailer.lastToken()
	if newToken == oldToken {
		t.Fatal("resend should issue a fresh token")
	}

	rec = doJSON(r, http.MethodGet, "/api/v1/auth/verify-email/"+oldToken, nil)
	if !strings.Contains(rec.Header().Get("Location"), "status=error") {
		t.Fatal("old token should be invalid after resend")
	}
	rec = doJSON(r, http.MethodGet, "/api/v1/auth/verify-email/"+newToken, nil)
	if !strings.Contains(rec.Header().Get("Location"), "status=success") {
		t.Fatal("new token should verify the account")
	}
}

func TestResendVerificationUnknownOrVerified(t *testing.T) {
	store := newFakeUserStore()
	mailer := &recordingMailer{}
	r, _ := newTestRouter(t, store, mailer)

	rec := doJSON(r, http.MethodPost, "/api/v1/auth/resend-verification", gin.H{"email": "ghost@example.com"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown email status = %d", rec.Code)
	}

	doJSON(r, http.MethodPost, "/api/v1/auth/register", gin.H{
		"name":     "Eve Long",
		"email":    "eve@example.com",
		"password": "Passw0rd",
	})
	doJSON(r, http.MethodGet, "/api/v1/auth/verify-email/"+mailer.lastToken(), nil)

	rec = doJSON(r, http.MethodPost, "/api/v1/auth/resend-verification", gin.H{"email": "eve@example.com"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("verified account resend status = %d", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	store := newFakeUserStore()
	mailer := &recordingMailer{}
	r, _ := newTestRouter(t, store, mailer)

	cases := []struct {
		name string
		body gin.H
	}{
		{"short name", gin.H{"name": "A", "email": "a@x.com", "password": "Passw0rd"}},
		{"name with digits", gin.H{"name": "R2D2", "email": "a@x.com", "password": "Passw0rd"}},
		{"bad email", gin.H{"name": "Alice Smith", "email": "not-an-email", "password": "Passw0rd"}},
		{"short password", gin.H{"name": "Alice Smith", "email": "a@x.com", "password": "Ab1"}},
		{"no uppercase", gin.H{"name": "Alice Smith", "email": "a@x.com", "password": "passw0rd"}},
		{"no digit", gin.H{"name": "Alice Smith", "email": "a@x.com", "password": "Password"}},
		{"bad role", gin.H{"name": "Alice Smith", "email": "a@x.com", "password": "Passw0rd", "role": "root"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(r, http.MethodPost, "/api/v1/auth/register", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	store := newFakeUserStore()
	mailer := &recordingMailer{}
	r, _ := newTestRouter(t, store, mailer)

	body := gin.H{"name": "Fay Wren", "email": "fay@example.com", "password": "Passw0rd"}
	if rec := doJSON(r, http.MethodPost, "/api/v1/auth/register", body); rec.Code != http.StatusCreated {
		t.Fatalf("first register status = %d", rec.Code)
	}
	rec := doJSON(r, http.MethodPost, "/api/v1/auth/register", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate register status = %d", rec.Code)
	}
}

func TestRegisterEmailFailureIsNotFatal(t *testing.T) {
	store := newFakeUserStore()
	mailer := &recordingMailer{verifyErr: errors.New("smtp down")}
	r, _ := newTestRouter(t, store, mailer)

	rec := doJSON(r, http.MethodPost, "/api/v1/auth/register", gin.H{
		"name":     "Gil Ford",
		"email":    "gil@example.com",
		"password": "Passw0rd",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	if data["emailSent"] != false {
		t.Fatalf("expected emailSent=false, got %v", data["emailSent"])
	}
	if store.get(1) == nil {
		t.Fatal("user should still be created")
	}
}

func TestLoginFailureTaxonomy(t *testing.T) {
	store := newFakeUserStore()
	mailer := &recordingMailer{}
	r, _ := newTestRouter(t, store, mailer)

	doJSON(r, http.MethodPost, "/api/v1/auth/register", gin.H{
		"name":     "Hal Reed",
		"email":    "hal@example.com",
		"password": "Passw0rd",
	})
	doJSON(r, http.MethodGet, "/api/v1/auth/verify-email/"+mailer.lastToken(), nil)

	// 未知邮箱与错误密码返回同一消息
	rec := doJSON(r, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "ghost@example.com", "password": "Passw0rd"})
	unknown := decodeEnvelope(t, rec)["message"]
	rec = doJSON(r, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "hal@example.com", "password": "Wrong0pass"})
	wrongPass := decodeEnvelope(t, rec)["message"]
	if unknown != "Invalid credentials" || wrongPass != "Invalid credentials" {
		t.Fatalf("login errors must not reveal which field failed: %v / %v", unknown, wrongPass)
	}

	// 停用账号有独立的提示
	u := store.get(1)
	u.IsActive = false
	_ = store.SaveUser(context.Background(), u)
	rec = doJSON(r, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "hal@example.com", "password": "Passw0rd"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("deactivated login status = %d", rec.Code)
	}
	if msg := decodeEnvelope(t, rec)["message"]; msg != "Account is deactivated" {
		t.Fatalf("unexpected message: %v", msg)
	}
}

func TestUpdateProfile(t *testing.T) {
	store := newFakeUserStore()
	mailer := &recordingMailer{}
	_, h := newTestRouter(t, store, mailer)

	user := &model.User{Name: "Ivy Moss", Email: "ivy@example.com", Role: model.RoleUser, IsActive: true, IsVerified: true}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	r := gin.New()
	r.PUT("/api/v1/auth/profile", func(c *gin.Context) {
		u := store.get(user.ID)
		c.Set("currentUser", u)
		h.UpdateProfile(c)
	})

	rec := doJSON(r, http.MethodPut, "/api/v1/auth/profile", gin.H{"name": "Ivy Stone"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if store.get(user.ID).Name != "Ivy Stone" {
		t.Fatalf("name not persisted: %q", store.get(user.ID).Name)
	}

	// 改成他人邮箱被拒
	other := &model.User{Name: "Jon Dale", Email: "jon@example.com", Role: model.RoleUser, IsActive: true, IsVerified: true}
	_ = store.CreateUser(context.Background(), other)
	rec = doJSON(r, http.MethodPut, "/api/v1/auth/profile", gin.H{"email": "jon@example.com"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate email update status = %d", rec.Code)
	}
}
