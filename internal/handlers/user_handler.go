package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	mw "github.com/irisballot/backend/internal/middleware"
	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/services"
)

type UserHandler struct {
	creds     *services.CredentialService
	validator *services.ValidationHelper
	log       zerolog.Logger
}

func NewUserHandler(creds *services.CredentialService, log zerolog.Logger) *UserHandler {
	return &UserHandler{
		creds:     creds,
		validator: services.NewValidationHelper(),
		log:       log.With().Str("component", "users").Logger(),
	}
}

type RoleRequest struct {
	Role models.Role `json:"role" validate:"required,oneof=admin operator voter"`
}

type PasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type LinkRequest struct {
	PersonID int64 `json:"personId" validate:"required,gt=0"`
}

// Register creates a login account
// @Summary Register user
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.RegisterUserRequest true "Account"
// @Success 201 {object} models.User
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /users [post]
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())

	var req services.RegisterUserRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	u, err := h.creds.RegisterUser(r.Context(), claims.Username(), req)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// Delete removes a login account permanently
// @Summary Delete user
// @Tags users
// @Security BearerAuth
// @Param username path string true "Username"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /users/{username} [delete]
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())
	username := chi.URLParam(r, "username")
	if username == claims.Username() {
		SendErrorResponse(w, "Cannot delete your own account", http.StatusConflict, nil)
		return
	}
	if err := h.creds.DeleteUserPermanently(r.Context(), claims.Username(), username); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnrollTOTP issues a new second factor secret
// @Summary Enroll TOTP
// @Description Returns the secret, otpauth URI and a QR code PNG once. Only the sealed secret is stored. Replacing your own enrolled factor needs the current password and code.
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param username path string true "Username"
// @Param request body services.ReauthRequest false "Current credentials"
// @Success 200 {object} services.TOTPEnrollment
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /users/{username}/totp [post]
func (h *UserHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())
	username := chi.URLParam(r, "username")
	if claims.Role != models.RoleAdmin && username != claims.Username() {
		SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return
	}
	var reauth services.ReauthRequest
	if r.ContentLength != 0 && !decodeBody(w, r, h.validator, &reauth) {
		return
	}
	enrollment, err := h.creds.EnrollTOTP(r.Context(), claims.Username(), username, reauth)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

// ChangeRole sets a user's role
// @Summary Change role
// @Tags users
// @Accept json
// @Security BearerAuth
// @Param username path string true "Username"
// @Param request body RoleRequest true "Role"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /users/{username}/role [put]
func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())
	var req RoleRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	if err := h.creds.ChangeRole(r.Context(), claims.Username(), chi.URLParam(r, "username"), req.Role); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetPassword sets a new password and clears any lockout
// @Summary Reset password
// @Tags users
// @Accept json
// @Security BearerAuth
// @Param username path string true "Username"
// @Param request body PasswordRequest true "Password"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /users/{username}/password [put]
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())
	var req PasswordRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	if err := h.creds.ResetPassword(r.Context(), claims.Username(), chi.URLParam(r, "username"), req.Password); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Link ties a user to an enrolled person
// @Summary Link person
// @Tags users
// @Accept json
// @Security BearerAuth
// @Param username path string true "Username"
// @Param request body LinkRequest true "Person"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /users/{username}/person [put]
func (h *UserHandler) Link(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())
	var req LinkRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	if err := h.creds.LinkPerson(r.Context(), claims.Username(), chi.URLParam(r, "username"), req.PersonID); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unlink clears a user's person reference
// @Summary Unlink person
// @Tags users
// @Security BearerAuth
// @Param username path string true "Username"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /users/{username}/person [delete]
func (h *UserHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())
	if err := h.creds.UnlinkPerson(r.Context(), claims.Username(), chi.URLParam(r, "username")); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
