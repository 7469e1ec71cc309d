package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	mw "github.com/irisballot/backend/internal/middleware"
	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/services"
)

type PersonHandler struct {
	identity  *services.IdentityService
	kiosk     *services.KioskService
	validator *services.ValidationHelper
	log       zerolog.Logger
}

func NewPersonHandler(identity *services.IdentityService, kiosk *services.KioskService, log zerolog.Logger) *PersonHandler {
	return &PersonHandler{
		identity:  identity,
		kiosk:     kiosk,
		validator: services.NewValidationHelper(),
		log:       log.With().Str("component", "persons").Logger(),
	}
}

// EnrollRequest carries either the session whose capture to enroll or an
// uploaded template (base64 in JSON), not both.
type EnrollRequest struct {
	Name      string `json:"name" validate:"required,min=2,max=120"`
	Phone     string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Address   string `json:"address,omitempty" validate:"omitempty,max=255"`
	VoterID   string `json:"voterId" validate:"required,alphanum,max=32"`
	SessionID string `json:"sessionId,omitempty" validate:"omitempty,uuid"`
	Template  []byte `json:"template,omitempty"`
}

type UpdatePersonRequest struct {
	Name    string `json:"name" validate:"required,min=2,max=120"`
	Phone   string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Address string `json:"address,omitempty" validate:"omitempty,max=255"`
	VoterID string `json:"voterId" validate:"required,alphanum,max=32"`
}

type TemplateRequest struct {
	Template []byte `json:"template" validate:"required"`
}

// Enroll registers a new person
// @Summary Enroll person
// @Description Enroll from a finished session's capture or from an uploaded template. Rejects duplicate irises, names and voter ids.
// @Tags persons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body EnrollRequest true "Person"
// @Success 201 {object} object{id=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /persons [post]
func (h *PersonHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())

	var req EnrollRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	if req.SessionID != "" && len(req.Template) > 0 {
		SendErrorResponse(w, "Provide either sessionId or template", http.StatusBadRequest, nil)
		return
	}

	person := &models.Person{Name: req.Name, Phone: req.Phone, Address: req.Address, VoterID: req.VoterID}

	var (
		id  int64
		err error
	)
	if req.SessionID != "" {
		id, err = h.kiosk.EnrollFromSession(r.Context(), claims.Username(), req.SessionID, person)
	} else {
		id, err = h.identity.Enroll(r.Context(), claims.Username(), person, req.Template)
	}
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// Get returns one person
// @Summary Get person
// @Tags persons
// @Produce json
// @Security BearerAuth
// @Param id path int true "Person ID"
// @Success 200 {object} models.Person
// @Failure 404 {object} ErrorResponse
// @Router /persons/{id} [get]
func (h *PersonHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.identity.GetPerson(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Update replaces a person's details
// @Summary Update person
// @Tags persons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Person ID"
// @Param request body UpdatePersonRequest true "Person"
// @Success 200 {object} models.Person
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /persons/{id} [put]
func (h *PersonHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req UpdatePersonRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	person := &models.Person{ID: id, Name: req.Name, Phone: req.Phone, Address: req.Address, VoterID: req.VoterID}
	if err := h.identity.UpdatePerson(r.Context(), claims.Username(), person); err != nil {
		sendServiceError(w, err)
		return
	}
	h.Get(w, r)
}

// UpdateTemplate replaces a person's iris template
// @Summary Replace iris template
// @Tags persons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Person ID"
// @Param request body TemplateRequest true "Template"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /persons/{id}/template [put]
func (h *PersonHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req TemplateRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	if err := h.identity.UpdateIrisTemplate(r.Context(), claims.Username(), id, req.Template); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deactivate stops a person from being admitted
// @Summary Deactivate person
// @Tags persons
// @Security BearerAuth
// @Param id path int true "Person ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /persons/{id}/deactivate [post]
func (h *PersonHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.identity.Deactivate(r.Context(), claims.Username(), id); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete purges a person and everything that references them
// @Summary Purge person
// @Tags persons
// @Security BearerAuth
// @Param id path int true "Person ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /persons/{id} [delete]
func (h *PersonHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, _ := mw.ClaimsFrom(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.identity.DeletePersonPermanently(r.Context(), claims.Username(), id); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AccessLogs lists a person's most recent access records
// @Summary Access logs
// @Tags persons
// @Produce json
// @Security BearerAuth
// @Param id path int true "Person ID"
// @Param limit query int false "Maximum rows" default(50)
// @Success 200 {array} models.AccessLog
// @Router /persons/{id}/access [get]
func (h *PersonHandler) AccessLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	logs, err := h.identity.ListAccessLogs(r.Context(), id, limit)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	if logs == nil {
		logs = []models.AccessLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
