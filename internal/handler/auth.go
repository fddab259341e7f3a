package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/auth"
	"github.com/kiwari-pos/kds/internal/enum"
	"go.uber.org/zap"
)

// AuthHandler handles display terminal authentication.
// Kitchen staff share one PIN whose bcrypt hash is configured at startup.
type AuthHandler struct {
	pinHash   string
	jwtSecret string
	logger    *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(pinHash, jwtSecret string, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{pinHash: pinHash, jwtSecret: jwtSecret, logger: logger}
}

// RegisterRoutes registers auth endpoints on the given Chi router.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/pin-login", h.PinLogin)
	r.Post("/auth/refresh", h.Refresh)
}

// --- Request / Response types ---

type pinLoginRequest struct {
	TerminalID string `json:"terminal_id"`
	Pin        string `json:"pin"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	Terminal     terminalResponse `json:"terminal"`
}

type terminalResponse struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role"`
}

// --- Handlers ---

// PinLogin handles PIN authentication for a display terminal. A terminal
// without an ID is assigned a new one.
func (h *AuthHandler) PinLogin(w http.ResponseWriter, r *http.Request) {
	var req pinLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Pin == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pin is required"})
		return
	}

	terminalID := uuid.New()
	if req.TerminalID != "" {
		id, err := uuid.Parse(req.TerminalID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid terminal_id"})
			return
		}
		terminalID = id
	}

	if err := auth.CheckPIN(h.pinHash, req.Pin); err != nil {
		if !errors.Is(err, auth.ErrInvalidPIN) {
			h.logger.Error("check pin", zap.Error(err))
		}
		h.logger.Warn("pin login rejected", zap.String("terminal_id", terminalID.String()))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	h.respondWithTokens(w, terminalID, enum.UserRoleKitchen)
}

// Refresh exchanges a valid refresh token for a new access + refresh token pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "refresh_token is required"})
		return
	}

	terminalID, role, err := auth.ValidateRefreshToken(h.jwtSecret, req.RefreshToken)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
		return
	}

	h.respondWithTokens(w, terminalID, role)
}

// --- Helpers ---

func (h *AuthHandler) respondWithTokens(w http.ResponseWriter, terminalID uuid.UUID, role string) {
	accessToken, err := auth.GenerateToken(h.jwtSecret, terminalID, role)
	if err != nil {
		h.logger.Error("generate access token", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	refreshToken, err := auth.GenerateRefreshToken(h.jwtSecret, terminalID, role)
	if err != nil {
		h.logger.Error("generate refresh token", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.logger.Info("terminal signed in", zap.String("terminal_id", terminalID.String()), zap.String("role", role))
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Terminal:     terminalResponse{ID: terminalID, Role: role},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("failed to encode JSON response", zap.Error(err))
	}
}
