package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"registration-service/internal/models"
	"registration-service/internal/service"
	"registration-service/internal/token"
)

const maxBodyBytes = 1 << 16

// CredentialAPI is the service surface the handler drives, implemented by
// service.CredentialService.
type CredentialAPI interface {
	CheckPhone(ctx context.Context, phone string) (*service.CheckPhoneResult, error)
	SendOTP(ctx context.Context, req service.GenerateOTPRequest) error
	VerifyOTP(ctx context.Context, req service.VerifyOTPRequest) (*service.VerifyOTPResult, error)
	SubmitName(ctx context.Context, phone, firstName, lastName string) (models.RegistrationStep, error)
	SubmitPasscode(ctx context.Context, phone, passcode, confirmation string) (models.RegistrationStep, error)
	SubmitPassword(ctx context.Context, phone, password, confirmation string) (models.RegistrationStep, error)
	SubmitEmail(ctx context.Context, phone, email string) (models.RegistrationStep, error)
	VerifyEmail(ctx context.Context, verificationToken string) (*service.VerifyEmailResult, error)
	RegistrationStatus(ctx context.Context, phone string) (models.RegistrationStep, error)
}

// CredentialHandler handles HTTP requests for registration and login
type CredentialHandler struct {
	credentials CredentialAPI
	signer      token.Signer
	logger      *zap.Logger
}

func NewCredentialHandler(credentials CredentialAPI, signer token.Signer, logger *zap.Logger) *CredentialHandler {
	return &CredentialHandler{
		credentials: credentials,
		signer:      signer,
		logger:      logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

type stepResponse struct {
	NextStep models.RegistrationStep `json:"next_step"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

type checkPhoneRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type sendOTPRequest struct {
	PhoneNumber string         `json:"phone_number"`
	UserID      string         `json:"user_id"`
	Channel     models.Channel `json:"channel"`
	Email       string         `json:"email"`
}

type verifyOTPRequest struct {
	PhoneNumber string         `json:"phone_number"`
	Channel     models.Channel `json:"channel"`
	Email       string         `json:"email"`
	Code        string         `json:"code"`
}

type nameRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type passcodeRequest struct {
	Passcode             string `json:"passcode"`
	ConfirmationPasscode string `json:"confirmation_passcode"`
}

type passwordRequest struct {
	Password             string `json:"password"`
	ConfirmationPassword string `json:"confirmation_password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

// RegisterRoutes registers all credential routes
func (h *CredentialHandler) RegisterRoutes(router chi.Router) {
	router.Post("/auth/check-phone", h.CheckPhone)

	router.Route("/otp/login", func(r chi.Router) {
		r.Post("/send-otp", h.SendLoginOTP)
		r.Post("/verify-otp", h.VerifyLoginOTP)
	})

	router.Get("/registration/email/verify", h.VerifyEmail)

	router.Group(func(r chi.Router) {
		r.Use(RegistrationToken(h.signer))

		r.Post("/otp/register/send-otp", h.SendRegisterOTP)
		r.Post("/otp/register/verify-otp", h.VerifyRegisterOTP)

		r.Get("/registration/status", h.RegistrationStatus)
		r.Post("/registration/name", h.SubmitName)
		r.Post("/registration/passcode", h.SubmitPasscode)
		r.Post("/registration/password", h.SubmitPassword)
		r.Post("/registration/email", h.SubmitEmail)
	})
}

// CheckPhone handles POST /auth/check-phone
func (h *CredentialHandler) CheckPhone(w http.ResponseWriter, r *http.Request) {
	var req checkPhoneRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.credentials.CheckPhone(r.Context(), req.PhoneNumber)
	if err != nil {
		h.respondWithError(w, err, "Failed to check phone number")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, "Phone number checked"))
}

// SendRegisterOTP handles POST /otp/register/send-otp. The phone comes from
// the registration token.
func (h *CredentialHandler) SendRegisterOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.credentials.SendOTP(r.Context(), service.GenerateOTPRequest{
		PhoneNumber: phoneFromContext(r.Context()),
		Purpose:     models.PurposeRegister,
		Channel:     req.Channel,
		Email:       req.Email,
	})
	if err != nil {
		h.respondWithError(w, err, "Failed to send OTP")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "OTP sent"))
}

// VerifyRegisterOTP handles POST /otp/register/verify-otp
func (h *CredentialHandler) VerifyRegisterOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.credentials.VerifyOTP(r.Context(), service.VerifyOTPRequest{
		PhoneNumber: phoneFromContext(r.Context()),
		Purpose:     models.PurposeRegister,
		Channel:     req.Channel,
		Email:       req.Email,
		Code:        req.Code,
	})
	if err != nil {
		h.respondWithError(w, err, "Failed to verify OTP")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, "OTP verified"))
}

// SendLoginOTP handles POST /otp/login/send-otp
func (h *CredentialHandler) SendLoginOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.credentials.SendOTP(r.Context(), service.GenerateOTPRequest{
		PhoneNumber: req.PhoneNumber,
		Purpose:     models.PurposeLogin,
		Channel:     req.Channel,
		Email:       req.Email,
		UserID:      req.UserID,
	})
	if err != nil {
		h.respondWithError(w, err, "Failed to send OTP")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "OTP sent"))
}

// VerifyLoginOTP handles POST /otp/login/verify-otp
func (h *CredentialHandler) VerifyLoginOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.credentials.VerifyOTP(r.Context(), service.VerifyOTPRequest{
		PhoneNumber: req.PhoneNumber,
		Purpose:     models.PurposeLogin,
		Channel:     req.Channel,
		Email:       req.Email,
		Code:        req.Code,
	})
	if err != nil {
		h.respondWithError(w, err, "Failed to verify OTP")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, "Logged in"))
}

// RegistrationStatus handles GET /registration/status
func (h *CredentialHandler) RegistrationStatus(w http.ResponseWriter, r *http.Request) {
	step, err := h.credentials.RegistrationStatus(r.Context(), phoneFromContext(r.Context()))
	if err != nil {
		h.respondWithError(w, err, "Failed to load registration status")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(stepResponse{NextStep: step}, ""))
}

// SubmitName handles POST /registration/name
func (h *CredentialHandler) SubmitName(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondWithStep(w, r, "name", func(ctx context.Context, phone string) (models.RegistrationStep, error) {
		return h.credentials.SubmitName(ctx, phone, req.FirstName, req.LastName)
	})
}

// SubmitPasscode handles POST /registration/passcode
func (h *CredentialHandler) SubmitPasscode(w http.ResponseWriter, r *http.Request) {
	var req passcodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondWithStep(w, r, "passcode", func(ctx context.Context, phone string) (models.RegistrationStep, error) {
		return h.credentials.SubmitPasscode(ctx, phone, req.Passcode, req.ConfirmationPasscode)
	})
}

// SubmitPassword handles POST /registration/password
func (h *CredentialHandler) SubmitPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondWithStep(w, r, "password", func(ctx context.Context, phone string) (models.RegistrationStep, error) {
		return h.credentials.SubmitPassword(ctx, phone, req.Password, req.ConfirmationPassword)
	})
}

// SubmitEmail handles POST /registration/email
func (h *CredentialHandler) SubmitEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondWithStep(w, r, "email", func(ctx context.Context, phone string) (models.RegistrationStep, error) {
		return h.credentials.SubmitEmail(ctx, phone, req.Email)
	})
}

// VerifyEmail handles GET /registration/email/verify?token=
func (h *CredentialHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	res, err := h.credentials.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.respondWithError(w, err, "Failed to verify email")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, "Registration completed"))
}

func (h *CredentialHandler) respondWithStep(w http.ResponseWriter, r *http.Request, step string, submit func(context.Context, string) (models.RegistrationStep, error)) {
	start := time.Now()
	next, err := submit(r.Context(), phoneFromContext(r.Context()))
	if err != nil {
		h.respondWithError(w, err, "Failed to submit "+step)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(stepResponse{NextStep: next}, "Saved "+step))
	h.logger.Debug("Registration step submitted",
		zap.String("step", step),
		zap.String("next_step", string(next)),
		zap.Duration("duration", time.Since(start)),
	)
}

func (h *CredentialHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   service.ErrInvalidRequest.Error(),
			Message: "Invalid request body",
		})
		return false
	}
	return true
}

// respondWithJSON sends a JSON response
func (h *CredentialHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	if err := writeJSON(w, statusCode, data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// respondWithError maps err to a status code and sends an error response.
// Internal failures are reported without detail.
func (h *CredentialHandler) respondWithError(w http.ResponseWriter, err error, message string) {
	statusCode := getStatusCode(err)
	detail := err.Error()
	if statusCode == http.StatusInternalServerError {
		detail = service.ErrInternal.Error()
	}
	h.logger.Warn("HTTP error response",
		zap.Error(err),
		zap.Int("status_code", statusCode),
		zap.String("message", message),
	)
	h.respondWithJSON(w, statusCode, Response{Success: false, Error: detail, Message: message})
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrWrongStep):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrExpired), errors.Is(err, service.ErrAlreadyConsumed):
		return http.StatusGone
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidCode):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountLocked):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}
