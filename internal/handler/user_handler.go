package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"license-service/internal/apperr"
	"license-service/internal/service"
	"license-service/internal/util"
)

// UserHandler handles HTTP requests for user and session operations.
type UserHandler struct {
	userService *service.UserService
	logger      *zap.Logger
}

func NewUserHandler(userService *service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		logger:      logger,
	}
}

func (h *UserHandler) RegisterRoutes(router chi.Router) {
	router.Route("/users", func(r chi.Router) {
		r.Post("/", h.Register)
		r.Get("/{userID}", h.Get)
	})
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, apperr.Wrap(apperr.KindValidation, "VALIDATION_ERROR", "invalid request body", err))
		return
	}

	user, err := h.userService.Register(r.Context(), req.Email, req.Username)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(user, "User registered"))
	h.logger.Info("User registered via HTTP", util.String("user_id", user.ID))
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	user, err := h.userService.Get(r.Context(), userID)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(user, "User retrieved"))
}

type loginRequest struct {
	UserID string `json:"userId"`
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, apperr.Wrap(apperr.KindValidation, "VALIDATION_ERROR", "invalid request body", err))
		return
	}

	info, err := h.userService.Login(r.Context(), req.UserID, r.RemoteAddr)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(info, "Session created"))
}

type logoutRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, apperr.Wrap(apperr.KindValidation, "VALIDATION_ERROR", "invalid request body", err))
		return
	}

	h.userService.Logout(r.Context(), req.SessionID)
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Session destroyed"))
}
