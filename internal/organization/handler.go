package organization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/auth"
)

type Handler struct {
	service  ServiceInterface
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(service ServiceInterface, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type DataResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
}

type DeleteResponse struct {
	Status       string `json:"status"`
	Organization string `json:"organization"`
}

// CreateOrganization handles POST /org/create.
func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}

	org, err := h.service.CreateOrg(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, DataResponse{Status: "success", Data: org})
}

// GetOrganization handles GET /org/get?organization_name=.
func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("organization_name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "organization_name is required")
		return
	}

	org, err := h.service.GetOrgByName(r.Context(), name)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, DataResponse{Status: "success", Data: org})
}

// AdminLogin handles POST /admin/login.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.service.AdminLogin(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, token)
}

// DeleteOrganization handles DELETE /org/delete?organization_name=.
func (h *Handler) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "User not authenticated")
		return
	}

	name := r.URL.Query().Get("organization_name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "organization_name is required")
		return
	}

	if err := h.service.DeleteOrg(r.Context(), principal, name); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, DeleteResponse{Status: "deleted", Organization: name})
}

// UpdateOrganization handles PUT /org/update.
func (h *Handler) UpdateOrganization(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "User not authenticated")
		return
	}

	var req UpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	org, err := h.service.UpdateOrg(r.Context(), principal, req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, DataResponse{Status: "success", Data: org})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAlreadyExists):
		respondError(w, http.StatusConflict, "already_exists", "Organization already exists")
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "Org not found")
	case errors.Is(err, ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, "unauthenticated", "Invalid credentials")
	case errors.Is(err, ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", "Not authorized for this organization")
	case errors.Is(err, ErrNothingToUpdate):
		respondError(w, http.StatusBadRequest, "validation_error", "Provide organization_name or admin_email")
	case errors.Is(err, ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "Storage is temporarily unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "timeout", "Request was cancelled")
	default:
		h.logger.Error("Unhandled service error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, statusCode int, errorType, message string) {
	respondJSON(w, statusCode, ErrorResponse{
		Error:   errorType,
		Message: message,
	})
}
