package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/fault"
	"github.com/licenselock/licenselock/internal/http/middleware"
	"github.com/licenselock/licenselock/internal/http/response"
	"github.com/licenselock/licenselock/internal/repository"
	"github.com/licenselock/licenselock/internal/service"
)

// AdminHandler is the operator surface: product management, license grants,
// hardware rebinds and account blocks. Every mutation names its actor.
type AdminHandler struct {
	identity *service.IdentityService
	licenses *service.LicenseService
	bindings *service.BindingService
	sessions *service.SessionService
	products repository.ProductRepository
	licRepo  repository.LicenseRepository
	audit    repository.AuditRepository
}

func NewAdminHandler(
	identity *service.IdentityService,
	licenses *service.LicenseService,
	bindings *service.BindingService,
	sessions *service.SessionService,
	products repository.ProductRepository,
	licRepo repository.LicenseRepository,
	audit repository.AuditRepository,
) *AdminHandler {
	return &AdminHandler{
		identity: identity,
		licenses: licenses,
		bindings: bindings,
		sessions: sessions,
		products: products,
		licRepo:  licRepo,
		audit:    audit,
	}
}

type createProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *AdminHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		response.Error(w, r, http.StatusBadRequest, fault.CodeInvalidInput, "product name is required", nil)
		return
	}
	p := &domain.Product{Name: req.Name, Description: req.Description}
	if err := h.products.Create(r.Context(), p); err != nil {
		if errors.Is(err, repository.ErrProductExists) {
			response.Error(w, r, http.StatusConflict, fault.CodeInvalidInput, "product name already exists", nil)
			return
		}
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, p)
}

func (h *AdminHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, products)
}

type grantLicenseRequest struct {
	UserID    uint       `json:"user_id"`
	ProductID uint       `json:"product_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *AdminHandler) GrantLicense(w http.ResponseWriter, r *http.Request) {
	var req grantLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, fault.CodeInvalidInput, "malformed JSON body", nil)
		return
	}
	lic, err := h.licenses.Grant(r.Context(), req.UserID, req.ProductID, req.ExpiresAt, middleware.ActorFromContext(r.Context()))
	if err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, lic)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) RevokeLicense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, fault.CodeInvalidInput, "malformed JSON body", nil)
		return
	}
	if err := h.licenses.Revoke(r.Context(), id, middleware.ActorFromContext(r.Context()), req.Reason); err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *AdminHandler) ListUserLicenses(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	licenses, err := h.licRepo.ListByUser(r.Context(), id)
	if err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, licenses)
}

func (h *AdminHandler) CheckEntitlement(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "product_id")
	if !ok {
		return
	}
	ent, err := h.licenses.CheckEntitlement(r.Context(), userID, productID)
	if err != nil {
		response.Fault(w, r, err)
		return
	}
	body := map[string]any{"entitled": ent.Entitled}
	if !ent.Entitled {
		body["reason"] = string(ent.Reason)
	}
	if ent.ExpiresAt != nil {
		body["expires_at"] = ent.ExpiresAt.UTC().Format(time.RFC3339)
	}
	response.JSON(w, r, http.StatusOK, body)
}

type rebindRequest struct {
	UserID      uint   `json:"user_id"`
	ProductID   uint   `json:"product_id"`
	Fingerprint string `json:"fingerprint"`
	Reason      string `json:"reason"`
}

func (h *AdminHandler) Rebind(w http.ResponseWriter, r *http.Request) {
	var req rebindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Fingerprint == "" {
		response.Error(w, r, http.StatusBadRequest, fault.CodeInvalidInput, "fingerprint is required", nil)
		return
	}
	result, err := h.bindings.OperatorRebind(r.Context(), req.UserID, req.ProductID, req.Fingerprint, middleware.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"fingerprint":          result.Fingerprint,
		"invalidated_sessions": result.InvalidatedSessions,
	})
}

func (h *AdminHandler) BindingHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "product_id")
	if !ok {
		return
	}
	history, err := h.bindings.History(r.Context(), userID, productID)
	if err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, history)
}

func (h *AdminHandler) BlockUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, fault.CodeInvalidInput, "malformed JSON body", nil)
		return
	}
	if err := h.identity.Block(r.Context(), id, middleware.ActorFromContext(r.Context()), req.Reason); err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "blocked"})
}

func (h *AdminHandler) UnblockUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, fault.CodeInvalidInput, "malformed JSON body", nil)
		return
	}
	if err := h.identity.Unblock(r.Context(), id, middleware.ActorFromContext(r.Context()), req.Reason); err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "unblocked"})
}

func (h *AdminHandler) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sessions, err := h.sessions.ListActive(r.Context(), id)
	if err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, sessions)
}

func (h *AdminHandler) RevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, fault.CodeInvalidInput, "malformed JSON body", nil)
		return
	}
	n, err := h.sessions.RevokeSessions(r.Context(), id, middleware.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]int64{"revoked": n})
}

func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			response.Error(w, r, http.StatusBadRequest, fault.CodeInvalidInput, "limit must be 1..1000", nil)
			return
		}
		limit = parsed
	}
	entries, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, entries)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		response.Error(w, r, http.StatusBadRequest, fault.CodeInvalidInput, "invalid "+name, nil)
		return 0, false
	}
	return uint(id), true
}
