package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/eventdesk/eventdesk/internal/observability"
	"github.com/eventdesk/eventdesk/internal/platform/httpx"
	"github.com/eventdesk/eventdesk/internal/rbac"
	"github.com/eventdesk/eventdesk/internal/shared"
)

// OAuthExchangeHeader carries the shared secret proving the caller performed
// the provider token exchange.
const OAuthExchangeHeader = "X-OAuth-Exchange-Secret"

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	rbacService    *rbac.Service
	sessionManager *shared.SessionManager
	metrics        *observability.Metrics
	oauthSecret    string
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance. An empty oauthSecret disables the
// OAuth completion endpoint.
func NewHandler(logger *slog.Logger, service *Service, rbacService *rbac.Service, sessions *shared.SessionManager, metrics *observability.Metrics, oauthSecret string) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		rbacService:    rbacService,
		sessionManager: sessions,
		metrics:        metrics,
		oauthSecret:    oauthSecret,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/register", h.handleRegister)
	r.Post("/oauth", h.handleOAuth)
	r.Post("/verify-email", h.handleVerifyEmail)
	r.Post("/forgot-password", h.handleForgotPassword)
	r.Post("/reset-password", h.handleResetPassword)
	r.Get("/permissions", h.handlePermissions)
	r.Get("/check", h.handleCheck)
}

type loginPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type registerPayload struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type oauthPayload struct {
	Provider string `json:"provider" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name"`
}

type tokenPayload struct {
	Token string `json:"token" validate:"required"`
}

type emailPayload struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPayload struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

type identityView struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginPayload
	if !h.decode(w, r, &payload) {
		return
	}
	identity, err := h.service.Authenticate(r.Context(), payload.Email, payload.Password)
	if err != nil {
		h.metrics.RecordLogin("fail")
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
		return
	}
	h.metrics.RecordLogin("ok")
	h.bindSession(r, identity)
	httpx.JSON(w, http.StatusOK, map[string]any{"user": toIdentityView(identity)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Signed out"})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload registerPayload
	if !h.decode(w, r, &payload) {
		return
	}
	identity, err := h.service.Register(r.Context(), payload.Name, payload.Email, payload.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"message": "User registered successfully",
		"user":    toIdentityView(identity),
	})
}

func (h *Handler) handleOAuth(w http.ResponseWriter, r *http.Request) {
	// Only the gateway that completed the provider token exchange holds the
	// shared secret; without it anyone could mint a session for any email.
	secret := r.Header.Get(OAuthExchangeHeader)
	if h.oauthSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.oauthSecret)) != 1 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid token exchange credentials")
		return
	}
	var payload oauthPayload
	if !h.decode(w, r, &payload) {
		return
	}
	identity, err := h.service.CompleteOAuthSignIn(r.Context(), payload.Email, payload.Name)
	if err != nil {
		h.logger.Error("oauth sign-in", slog.String("provider", payload.Provider), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.bindSession(r, identity)
	httpx.JSON(w, http.StatusOK, map[string]any{"user": toIdentityView(identity)})
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var payload tokenPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if err := h.service.VerifyEmail(r.Context(), payload.Token); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Email verified successfully"})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var payload emailPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if err := h.service.ForgotPassword(r.Context(), payload.Email); err != nil {
		h.logger.Error("forgot password", slog.Any("error", err))
	}
	// Identical response whether or not the account exists.
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message": "If an account with that email exists, we've sent a password reset link",
	})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var payload resetPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if err := h.service.ResetPassword(r.Context(), payload.Token, payload.Password); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Password updated successfully"})
}

func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := rbac.CurrentUserID(r)
	if !ok {
		httpx.JSON(w, http.StatusUnauthorized, map[string]any{"permissions": []string{}})
		return
	}
	perms := h.rbacService.UserPermissions(r.Context(), userID)
	if perms == nil {
		perms = []string{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	userID, ok := rbac.CurrentUserID(r)
	if !ok {
		httpx.JSON(w, http.StatusUnauthorized, map[string]any{"hasPermission": false})
		return
	}
	name := r.URL.Query().Get("permission")
	if name == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "permission parameter is required")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"hasPermission": h.rbacService.HasPermission(r.Context(), userID, name),
	})
}

// bindSession attaches the user ID and role name to the request session and
// records the session row for auditing.
func (h *Handler) bindSession(r *http.Request, identity Identity) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during sign-in")
		return
	}
	sess.SetUser(strconv.FormatInt(identity.ID, 10), identity.RoleName)
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, identity.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, payload any) bool {
	if err := httpx.DecodeJSON(r, payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return false
	}
	if err := h.validator.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", verrs[0].Error())
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request")
		return false
	}
	return true
}

func toIdentityView(identity Identity) identityView {
	return identityView{ID: identity.ID, Name: identity.Name, Email: identity.Email, Role: identity.RoleName}
}
