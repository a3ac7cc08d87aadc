package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"license-service/internal/apperr"
	"license-service/internal/models"
	"license-service/internal/service"
	"license-service/internal/util"
)

// LicenseHandler handles HTTP requests for license operations.
type LicenseHandler struct {
	licenseService *service.LicenseService
	searchService  *service.SearchService
	logger         *zap.Logger
}

func NewLicenseHandler(licenseService *service.LicenseService, searchService *service.SearchService, logger *zap.Logger) *LicenseHandler {
	return &LicenseHandler{
		licenseService: licenseService,
		searchService:  searchService,
		logger:         logger,
	}
}

// RegisterRoutes registers all license routes.
func (h *LicenseHandler) RegisterRoutes(router chi.Router) {
	router.Route("/licenses", func(r chi.Router) {
		r.Post("/", h.Issue)
		r.Post("/activate", h.Activate)
		r.Post("/deactivate", h.Deactivate)
		r.Post("/verify", h.Verify)

		r.Get("/search", h.Search)

		r.Get("/{key}", h.Get)
		r.Get("/{key}/activations", h.ListActivations)
		r.Post("/{key}/revoke", h.Revoke)
		r.Post("/{key}/transfer", h.Transfer)
	})
}

type issueRequest struct {
	Type           string                 `json:"type"`
	UserID         string                 `json:"userId"`
	ProductID      string                 `json:"productId"`
	MaxActivations int                    `json:"maxActivations"`
	ExpiresInDays  int                    `json:"expiresInDays"`
	Features       map[string]string      `json:"features"`
	Metadata       map[string]interface{} `json:"metadata"`
	IssueActive    bool                   `json:"issueActive"`
}

func (h *LicenseHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, apperr.Wrap(apperr.KindValidation, "VALIDATION_ERROR", "invalid request body", err))
		return
	}

	licType, ok := models.ParseLicenseType(req.Type)
	if !ok {
		respondWithError(w, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "unknown license type"))
		return
	}

	lic, err := h.licenseService.Issue(ctx, service.IssueRequest{
		Type:           licType,
		UserID:         req.UserID,
		ProductID:      req.ProductID,
		MaxActivations: req.MaxActivations,
		ExpiresInDays:  req.ExpiresInDays,
		Features:       req.Features,
		Metadata:       req.Metadata,
		IssueActive:    req.IssueActive,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(lic, "License issued"))
	h.logger.Info("License issued via HTTP",
		util.String("license_id", lic.ID),
		util.String("user_id", lic.UserID),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *LicenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	lic, err := h.licenseService.Get(r.Context(), key)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(lic, "License retrieved"))
}

type activateRequest struct {
	Key        string                 `json:"key"`
	UserID     string                 `json:"userId"`
	HardwareID string                 `json:"hardwareId"`
	DeviceName string                 `json:"deviceName"`
	Metadata   map[string]interface{} `json:"metadata"`
}

func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, apperr.Wrap(apperr.KindValidation, "VALIDATION_ERROR", "invalid request body", err))
		return
	}

	result, err := h.licenseService.Activate(ctx, service.ActivateRequest{
		Key:        req.Key,
		UserID:     req.UserID,
		HardwareID: req.HardwareID,
		DeviceName: req.DeviceName,
		IPAddress:  r.RemoteAddr,
		Metadata:   req.Metadata,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}

	status := http.StatusCreated
	message := "License activated"
	if result.Reactivated {
		status = http.StatusOK
		message = "Activation refreshed"
	}

	respondWithJSON(w, status, successResponse(result, message))
	h.logger.Info("License activation via HTTP",
		util.String("license_id", result.License.ID),
		util.String("hardware_id", req.HardwareID),
		util.Bool("reactivated", result.Reactivated),
		util.Duration("duration", time.Since(startTime)),
	)
}

type deactivateRequest struct {
	Key        string `json:"key"`
	HardwareID string `json:"hardwareId"`
}

func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, apperr.Wrap(apperr.KindValidation, "VALIDATION_ERROR", "invalid request body", err))
		return
	}

	if err := h.licenseService.Deactivate(r.Context(), req.Key, req.HardwareID); err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "License deactivated"))
}

type verifyRequest struct {
	Key        string `json:"key"`
	HardwareID string `json:"hardwareId"`
}

func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, apperr.Wrap(apperr.KindValidation, "VALIDATION_ERROR", "invalid request body", err))
		return
	}

	result, err := h.licenseService.Verify(r.Context(), req.Key, req.HardwareID)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(result, "Verification complete"))
}

func (h *LicenseHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := h.licenseService.Revoke(r.Context(), key); err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "License revoked"))
}

type transferRequest struct {
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
}

func (h *LicenseHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, apperr.Wrap(apperr.KindValidation, "VALIDATION_ERROR", "invalid request body", err))
		return
	}
	if req.FromUserID == "" || req.ToUserID == "" {
		respondWithError(w, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "fromUserId and toUserId are required"))
		return
	}

	lic, err := h.licenseService.Transfer(r.Context(), key, req.FromUserID, req.ToUserID)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(lic, "License transferred"))
}

func (h *LicenseHandler) ListActivations(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	activations, err := h.licenseService.ListActivations(r.Context(), key)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(activations, "Activations retrieved"))
}

func (h *LicenseHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h.searchService == nil {
		respondWithError(w, apperr.New(apperr.KindStoreUnavailable, "SEARCH_DISABLED", "license search is not enabled"))
		return
	}

	q := r.URL.Query()
	from, _ := strconv.Atoi(q.Get("from"))
	size, _ := strconv.Atoi(q.Get("size"))

	result, err := h.searchService.Search(r.Context(), service.SearchQuery{
		UserID:    q.Get("userId"),
		ProductID: q.Get("productId"),
		Status:    q.Get("status"),
		Type:      q.Get("type"),
		From:      from,
		Size:      size,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(result, "Search complete"))
}
