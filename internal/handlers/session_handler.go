package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/irisballot/backend/internal/matcher"
	mw "github.com/irisballot/backend/internal/middleware"
	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/services"
)

type SessionHandler struct {
	kiosk     *services.KioskService
	validator *services.ValidationHelper
	log       zerolog.Logger
}

func NewSessionHandler(kiosk *services.KioskService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		kiosk:     kiosk,
		validator: services.NewValidationHelper(),
		log:       log.With().Str("component", "sessions").Logger(),
	}
}

type StartSessionRequest struct {
	Mode           matcher.Mode `json:"mode" validate:"required,oneof=identify verify"`
	TargetPersonID *int64       `json:"targetPersonId,omitempty" validate:"omitempty,gt=0"`
}

type VoteRequest struct {
	ElectionID string `json:"electionId" validate:"required,max=64"`
}

// Start opens the camera and begins a match session
// @Summary Start match session
// @Description Start an identify or verify session. Only one session runs at a time; voters may only verify themselves.
// @Tags sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body StartSessionRequest true "Session request"
// @Success 202 {object} matcher.Status
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /sessions [post]
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())

	var req StartSessionRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	if claims.Role == models.RoleVoter {
		if claims.PersonID == nil {
			SendErrorResponse(w, "Account is not linked to a person", http.StatusForbidden, nil)
			return
		}
		req.Mode = matcher.ModeVerify
		req.TargetPersonID = claims.PersonID
	}

	id, err := h.kiosk.StartSession(r.Context(), claims.Username(), req.Mode, req.TargetPersonID)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	status, err := h.kiosk.Status(id)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

// Get returns the live status of a session
// @Summary Session status
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} matcher.Status
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())
	status, err := h.kiosk.Status(chi.URLParam(r, "id"))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	// voters only see sessions verifying themselves
	if claims.Role == models.RoleVoter && !targets(status, claims.PersonID) {
		sendServiceError(w, matcher.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func targets(status matcher.Status, personID *int64) bool {
	return personID != nil && status.TargetPersonID != nil && *status.TargetPersonID == *personID
}

// Cancel stops a running session and releases the camera
// @Summary Cancel session
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} matcher.Status
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id} [delete]
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.kiosk.Cancel(id); err != nil {
		sendServiceError(w, err)
		return
	}
	status, err := h.kiosk.Status(id)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Vote casts a ballot for the person a session verified
// @Summary Cast vote
// @Description Record one vote per person and election for a verified session.
// @Tags sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param request body VoteRequest true "Election"
// @Success 201 {object} models.VoteRecord
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /sessions/{id}/vote [post]
func (h *SessionHandler) Vote(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())
	id := chi.URLParam(r, "id")

	var req VoteRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	if claims.Role == models.RoleVoter {
		status, err := h.kiosk.Status(id)
		if err != nil {
			sendServiceError(w, err)
			return
		}
		if claims.PersonID == nil || status.PersonID != *claims.PersonID {
			SendErrorResponse(w, "Session verified a different person", http.StatusForbidden, nil)
			return
		}
	}

	vote, err := h.kiosk.CastVote(r.Context(), claims.Username(), id, req.ElectionID)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, vote)
}
