package handlers

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/session"
	"github.com/tbcp-io/tbcp/internal/store"
	"github.com/tbcp-io/tbcp/types"
)

// AuthHandler serves the admin channel's login/refresh/logout triad. It
// looks up the administrator row directly rather than through a dedicated
// domain package — there is no administrator lifecycle beyond the row
// itself, only the credential it authenticates.
type AuthHandler struct {
	db       *gorm.DB
	sessions *session.Manager
	logger   *zap.Logger
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(db *gorm.DB, sessions *session.Manager, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{db: db, sessions: sessions, logger: logger.With(zap.String("component", "auth_handler"))}
}

type loginRequest struct {
	ExternalID string `json:"external_id"`
	Password   string `json:"password"`
}

type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// HandleLogin authenticates an administrator by external id and password and
// issues a session pair. A bad external id and a bad password collapse to
// the same unauthorized response.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	externalID, verr := ParseIdentifier("external_id", req.ExternalID)
	if verr != nil {
		WriteError(w, verr, h.logger)
		return
	}
	if req.Password == "" {
		WriteError(w, types.Validation("password is required"), h.logger)
		return
	}

	var user store.User
	err := h.db.WithContext(r.Context()).Where("external_id = ?", externalID).First(&user).Error
	if err != nil {
		WriteError(w, types.Unauthorized("invalid credentials"), h.logger)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		WriteError(w, types.Unauthorized("invalid credentials"), h.logger)
		return
	}

	pair, err := h.sessions.Login(r.Context(), user.ID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, sessionResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh redeems a refresh token for a fresh session pair.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.RefreshToken == "" {
		WriteError(w, types.Validation("refresh_token is required"), h.logger)
		return
	}

	pair, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, sessionResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// HandleLogout revokes the session backing a refresh token.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]bool{"logged_out": true})
}
