package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"verify-service/internal/model"
	"verify-service/internal/service"
	"verify-service/internal/util"
)

// OTPHandler exposes the issue and verify operations over HTTP.
type OTPHandler struct {
	otpService *service.OTPService
	logger     *zap.Logger
}

func NewOTPHandler(otpService *service.OTPService, logger *zap.Logger) *OTPHandler {
	return &OTPHandler{
		otpService: otpService,
		logger:     logger,
	}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type IssueRequest struct {
	Principal string            `json:"principal"`
	Context   model.LeadContext `json:"context,omitempty"`
}

type IssueData struct {
	Principal string    `json:"principal"`
	Channel   string    `json:"channel"`
	ExpiresAt time.Time `json:"expires_at"`
}

type VerifyRequest struct {
	Principal string `json:"principal"`
	Code      string `json:"code"`
}

type VerifyData struct {
	Principal string            `json:"principal"`
	Channel   string            `json:"channel"`
	Context   model.LeadContext `json:"context,omitempty"`
}

// RegisterRoutes registers the verification routes.
func (h *OTPHandler) RegisterRoutes(router chi.Router) {
	router.Route("/otp", func(r chi.Router) {
		r.Post("/issue", h.Issue)
		r.Post("/verify", h.Verify)
	})
}

func (h *OTPHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.otpService.Issue(ctx, req.Principal, req.Context)
	if err != nil {
		h.respondWithError(w, statusCode(err), publicMessage(err))
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data: IssueData{
			Principal: util.MaskPrincipal(res.Principal),
			Channel:   string(res.Channel),
			ExpiresAt: res.ExpiresAt,
		},
	})
	h.logger.Debug("issue handled",
		util.String("channel", string(res.Channel)),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.otpService.Verify(ctx, req.Principal, req.Code)
	if err != nil {
		h.respondWithError(w, statusCode(err), publicMessage(err))
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data: VerifyData{
			Principal: res.Principal,
			Channel:   string(res.Channel),
			Context:   res.Context,
		},
	})
	h.logger.Debug("verify handled",
		util.String("channel", string(res.Channel)),
		util.Duration("duration", time.Since(startTime)),
	)
}

// genericRejection is the single public message for every code-level
// rejection. Not-found, expired, and wrong-code all read the same so the
// endpoint cannot be used to probe which principals have pending codes.
const genericRejection = "code is invalid or has expired"

func statusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrExpired),
		errors.Is(err, service.ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrValidation):
		return "invalid principal or code format"
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrExpired),
		errors.Is(err, service.ErrInvalidCode):
		return genericRejection
	case errors.Is(err, service.ErrTooManyAttempts):
		return "too many attempts, request a new code"
	case errors.Is(err, service.ErrDelivery):
		return "could not deliver the code, try again later"
	default:
		return "internal error"
	}
}

func (h *OTPHandler) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *OTPHandler) respondWithError(w http.ResponseWriter, status int, message string) {
	h.respondWithJSON(w, status, Response{
		Success: false,
		Error:   message,
	})
}
