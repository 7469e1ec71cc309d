package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	mw "github.com/irisballot/backend/internal/middleware"
	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/services"
)

type AuthHandler struct {
	creds     *services.CredentialService
	tokens    *mw.TokenIssuer
	auth      *mw.Authenticator
	validator *services.ValidationHelper
	log       zerolog.Logger
}

func NewAuthHandler(creds *services.CredentialService, tokens *mw.TokenIssuer, auth *mw.Authenticator, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		creds:     creds,
		tokens:    tokens,
		auth:      auth,
		validator: services.NewValidationHelper(),
		log:       log.With().Str("component", "auth").Logger(),
	}
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
	TOTPCode string `json:"totpCode,omitempty" validate:"omitempty,numeric,len=6"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// Login exchanges credentials for a bearer token
// @Summary Login
// @Description Check username, password and, when enrolled, the TOTP code. Repeated failures lock the account.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 423 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	user, err := h.creds.Authenticate(r.Context(), services.AuthRequest{
		Username: req.Username,
		Password: req.Password,
		TOTPCode: req.TOTPCode,
	})
	if err != nil {
		sendServiceError(w, err)
		return
	}

	token, exp, err := h.tokens.Issue(user)
	if err != nil {
		h.log.Error().Err(err).Str("username", user.Username).Msg("token issue failed")
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: exp, User: user})
}

// Logout revokes the caller's token
// @Summary Logout
// @Description Revoke the bearer token until it expires
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := mw.ClaimsFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if err := h.auth.Revoke(r.Context(), claims); err != nil {
		h.log.Error().Err(err).Str("username", claims.Username()).Msg("token revocation failed")
		SendErrorResponse(w, "Logout failed", http.StatusServiceUnavailable, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}
