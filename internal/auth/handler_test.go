package auth_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/eventdesk/eventdesk/internal/auth"
	"github.com/eventdesk/eventdesk/internal/observability"
	"github.com/eventdesk/eventdesk/internal/rbac"
	"github.com/eventdesk/eventdesk/internal/shared"
	_ "github.com/eventdesk/eventdesk/testing"
)

const testExchangeSecret = "exchange-secret"

type stubRepo struct {
	user     *auth.User
	sessions map[string]int64
	deleted  []string
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) Create(ctx context.Context, params auth.CreateUserParams) (*auth.User, error) {
	user := &auth.User{ID: 100, Name: params.Name, Email: params.Email,
		PasswordHash: params.PasswordHash, RoleID: params.RoleID, RoleName: "user",
		VerificationToken: params.VerificationToken}
	s.user = user
	return user, nil
}

func (s *stubRepo) AssignRole(ctx context.Context, userID, roleID int64) error { return nil }

func (s *stubRepo) FindByVerificationToken(ctx context.Context, token string) (*auth.User, error) {
	return nil, shared.ErrNotFound
}

func (s *stubRepo) MarkEmailVerified(ctx context.Context, userID int64) error { return nil }

func (s *stubRepo) SetResetToken(ctx context.Context, userID int64, token string, expiry time.Time) error {
	return nil
}

func (s *stubRepo) FindByResetToken(ctx context.Context, token string) (*auth.User, error) {
	return nil, shared.ErrNotFound
}

func (s *stubRepo) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	return nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	if s.sessions == nil {
		s.sessions = make(map[string]int64)
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type stubRoles struct{}

func (stubRoles) GetRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	if name == "user" {
		return rbac.Role{ID: 10, Name: "user"}, nil
	}
	return rbac.Role{}, shared.ErrNotFound
}

func (stubRoles) EnsureGuestRole(ctx context.Context) (rbac.Role, error) {
	return rbac.Role{ID: 40, Name: "guest"}, nil
}

func newTestRouter(t *testing.T, repo auth.Repository) (http.Handler, *shared.SessionManager) {
	t.Helper()
	return newInstrumentedRouter(t, repo, nil)
}

func newInstrumentedRouter(t *testing.T, repo auth.Repository, metrics *observability.Metrics) (http.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := auth.NewService(repo, stubRoles{}, nil, logger)
	handler := auth.NewHandler(logger, service, nil, sessionManager, metrics, testExchangeSecret)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessionManager.Load(req.Context(), req)
			if err != nil {
				t.Fatalf("load session: %v", err)
			}
			ctx := shared.ContextWithSession(req.Context(), sess)
			next.ServeHTTP(w, req.WithContext(ctx))
			if err := sessionManager.Commit(ctx, w, req, sess); err != nil {
				t.Fatalf("commit session: %v", err)
			}
		})
	})
	r.Route("/auth", handler.MountRoutes)
	return r, sessionManager
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestLoginSuccessBindsSession(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correct-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	hashStr := string(hashed)
	repo := &stubRepo{user: &auth.User{ID: 1, Name: "Ana", Email: "ana@example.com", PasswordHash: &hashStr, RoleName: "admin"}}
	router, _ := newTestRouter(t, repo)

	res := postJSON(t, router, "/auth/login", `{"email":"ana@example.com","password":"correct-pass"}`)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var body struct {
		User struct {
			ID   int64  `json:"id"`
			Role string `json:"role"`
		} `json:"user"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.User.ID != 1 || body.User.Role != "admin" {
		t.Fatalf("unexpected identity: %+v", body.User)
	}
	if len(repo.sessions) != 1 {
		t.Fatalf("expected one session record, got %d", len(repo.sessions))
	}
	cookieFound := false
	for _, raw := range res.Header().Values("Set-Cookie") {
		if strings.HasPrefix(raw, "test_session=") {
			cookieFound = true
		}
	}
	if !cookieFound {
		t.Fatalf("expected session cookie in response")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	hashed, _ := bcrypt.GenerateFromPassword([]byte("correct-pass"), bcrypt.MinCost)
	hashStr := string(hashed)
	repo := &stubRepo{user: &auth.User{ID: 1, Email: "ana@example.com", PasswordHash: &hashStr}}
	router, _ := newTestRouter(t, repo)

	res := postJSON(t, router, "/auth/login", `{"email":"ana@example.com","password":"wrong-pass"}`)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if len(repo.sessions) != 0 {
		t.Fatalf("failed login must not create a session record")
	}
}

func TestLoginValidation(t *testing.T) {
	router, _ := newTestRouter(t, &stubRepo{})

	res := postJSON(t, router, "/auth/login", `{"email":"not-an-email","password":"short"}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}

	res = postJSON(t, router, "/auth/login", `{not json`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", res.Code)
	}
}

func TestRegisterCreatesAccount(t *testing.T) {
	repo := &stubRepo{}
	router, _ := newTestRouter(t, repo)

	res := postJSON(t, router, "/auth/register", `{"name":"Ben","email":"ben@example.com","password":"longenough"}`)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if repo.user == nil || repo.user.Email != "ben@example.com" {
		t.Fatalf("expected account creation")
	}
}

func TestForgotPasswordResponseIsUniform(t *testing.T) {
	hashed, _ := bcrypt.GenerateFromPassword([]byte("x"), bcrypt.MinCost)
	hashStr := string(hashed)
	repo := &stubRepo{user: &auth.User{ID: 1, Email: "known@example.com", PasswordHash: &hashStr}}
	router, _ := newTestRouter(t, repo)

	known := postJSON(t, router, "/auth/forgot-password", `{"email":"known@example.com"}`)
	unknown := postJSON(t, router, "/auth/forgot-password", `{"email":"unknown@example.com"}`)

	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("expected 200 for both, got %d and %d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatalf("responses must not reveal account existence")
	}
}

func TestOAuthRejectsMissingExchangeSecret(t *testing.T) {
	repo := &stubRepo{}
	router, _ := newTestRouter(t, repo)

	res := postJSON(t, router, "/auth/oauth", `{"provider":"google","email":"admin@example.com"}`)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without exchange secret, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/oauth", strings.NewReader(`{"provider":"google","email":"admin@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.OAuthExchangeHeader, "guessed-secret")
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong exchange secret, got %d", res.Code)
	}

	if repo.user != nil {
		t.Fatalf("rejected exchange must not create an account")
	}
	if len(repo.sessions) != 0 {
		t.Fatalf("rejected exchange must not bind a session")
	}
}

func TestOAuthWithExchangeSecretBindsSession(t *testing.T) {
	repo := &stubRepo{}
	router, _ := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/auth/oauth", strings.NewReader(`{"provider":"google","email":"cara@example.com","name":"Cara"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.OAuthExchangeHeader, testExchangeSecret)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if repo.user == nil || repo.user.Email != "cara@example.com" {
		t.Fatalf("expected account creation for new OAuth identity")
	}
	if len(repo.sessions) != 1 {
		t.Fatalf("expected one session record, got %d", len(repo.sessions))
	}
}

func TestLoginOutcomesAreCounted(t *testing.T) {
	hashed, _ := bcrypt.GenerateFromPassword([]byte("correct-pass"), bcrypt.MinCost)
	hashStr := string(hashed)
	repo := &stubRepo{user: &auth.User{ID: 1, Email: "ana@example.com", PasswordHash: &hashStr}}
	metrics := observability.NewMetrics()
	router, _ := newInstrumentedRouter(t, repo, metrics)

	postJSON(t, router, "/auth/login", `{"email":"ana@example.com","password":"wrong-pass"}`)
	postJSON(t, router, "/auth/login", `{"email":"ana@example.com","password":"correct-pass"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	res := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(res, req)
	body := res.Body.String()
	if !strings.Contains(body, `eventdesk_logins_total{outcome="fail"} 1`) {
		t.Fatalf("missing failed login count:\n%s", body)
	}
	if !strings.Contains(body, `eventdesk_logins_total{outcome="ok"} 1`) {
		t.Fatalf("missing successful login count:\n%s", body)
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	repo := &stubRepo{}
	router, _ := newTestRouter(t, repo)

	res := postJSON(t, router, "/auth/logout", `{}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if len(repo.deleted) != 1 {
		t.Fatalf("expected session record removal, got %d", len(repo.deleted))
	}
}
