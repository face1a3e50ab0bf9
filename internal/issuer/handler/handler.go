// Package handler exposes the issuer over HTTP.
package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kcc-issuer/internal/issuer/models"
	dErrors "kcc-issuer/pkg/domain-errors"
	"kcc-issuer/pkg/platform/httputil"
	"kcc-issuer/pkg/requestcontext"
)

// Service is the issuance behaviour the handler needs.
type Service interface {
	IssueCredential(ctx context.Context, subjectDID string, data *models.CustomerCredential) (*models.IssueResult, error)
	Status(ctx context.Context) models.StatusResult
	Verify(ctx context.Context, token string) (*models.VerifiedCredential, error)
}

// Handler handles credential endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
	}
}

// Register mounts the routes. The router decides the prefix.
func (h *Handler) Register(r chi.Router) {
	r.Post("/issue-credential", h.handleIssueCredential)
	r.Get("/status", h.handleStatus)
	r.Post("/verify", h.handleVerify)
}

func (h *Handler) handleIssueCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeJSON[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	req.Sanitize()
	if req.CustomerDID == "" || req.CredentialData == nil {
		httputil.WriteErrorResponse(w, http.StatusBadRequest,
			"Missing required parameters", "customerDid and credentialData are required")
		return
	}

	result, err := h.service.IssueCredential(ctx, req.CustomerDID, req.CredentialData)
	if err != nil {
		switch dErrors.CodeOf(err) {
		case dErrors.CodeValidation, dErrors.CodeBadRequest:
			h.logger.WarnContext(ctx, "rejected credential request",
				"request_id", requestID,
				"error", err,
			)
			httputil.WriteErrorResponse(w, http.StatusBadRequest, "Invalid credential data", err.Error())
		default:
			h.logger.ErrorContext(ctx, "credential issuance failed",
				"request_id", requestID,
				"error_code", string(dErrors.CodeOf(err)),
				"error", err,
			)
			httputil.WriteErrorResponse(w, http.StatusInternalServerError, "Credential issuance failed", err.Error())
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, IssueResponse{
		IssuerDID:     result.IssuerDID,
		CredentialJWT: result.CredentialJWT,
		RecordID:      result.RecordID,
		Status:        result.Status,
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := h.service.Status(ctx)
	if !status.Connected() {
		h.logger.ErrorContext(ctx, "issuer status check failed",
			"request_id", requestcontext.RequestID(ctx),
			"message", status.Message,
		)
		httputil.WriteErrorResponse(w, http.StatusInternalServerError, "Failed to get status", status.Message)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:    status.Status,
		IssuerDID: status.IssuerDID,
	})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	verified, err := h.service.Verify(ctx, req.CredentialJWT)
	if err != nil {
		switch dErrors.CodeOf(err) {
		case dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
			httputil.WriteErrorResponse(w, http.StatusBadRequest, "Invalid credential", err.Error())
		default:
			h.logger.ErrorContext(ctx, "credential verification failed",
				"request_id", requestID,
				"error", err,
			)
			httputil.WriteError(w, err)
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toVerifyResponse(verified))
}
