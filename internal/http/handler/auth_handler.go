package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/licenselock/licenselock/internal/fault"
	"github.com/licenselock/licenselock/internal/http/response"
	"github.com/licenselock/licenselock/internal/service"
)

type AuthHandler struct {
	identity *service.IdentityService
	sessions *service.SessionService
}

func NewAuthHandler(identity *service.IdentityService, sessions *service.SessionService) *AuthHandler {
	return &AuthHandler{identity: identity, sessions: sessions}
}

type registerRequest struct {
	Email      string `json:"email"`
	Credential string `json:"credential"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, fault.CodeInvalidInput, "malformed JSON body", nil)
		return
	}
	user, err := h.identity.Register(r.Context(), req.Email, req.Credential)
	if err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"id":    user.ID,
		"email": user.Email,
	})
}

type loginRequest struct {
	Email       string `json:"email"`
	Credential  string `json:"credential"`
	Product     string `json:"product"`
	Fingerprint string `json:"fingerprint"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, fault.CodeInvalidInput, "malformed JSON body", nil)
		return
	}
	res, err := h.sessions.Login(r.Context(), service.LoginRequest{
		Email:       req.Email,
		Credential:  req.Credential,
		Product:     req.Product,
		Fingerprint: req.Fingerprint,
		IP:          r.RemoteAddr,
	})
	if err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"token":      res.Token,
		"expires_at": res.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type validateRequest struct {
	Token string `json:"token"`
	// Fingerprint is optional; when present it must match the bound device.
	Fingerprint string `json:"fingerprint"`
}

func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, fault.CodeInvalidInput, "malformed JSON body", nil)
		return
	}
	session, err := h.sessions.Validate(r.Context(), req.Token, req.Fingerprint)
	if err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user_id":    session.UserID,
		"product_id": session.ProductID,
		"expires_at": session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type logoutRequest struct {
	Token string `json:"token"`
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, fault.CodeInvalidInput, "malformed JSON body", nil)
		return
	}
	if err := h.sessions.Logout(r.Context(), req.Token); err != nil {
		response.Fault(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}
