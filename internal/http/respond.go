package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/rs/zerolog/log"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps domain errors to HTTP responses. Internal causes are
// logged, never echoed to the client.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var oos *domain.OutOfStockError
	var nf *domain.NotFoundError

	switch {
	case errors.As(err, &oos):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "insufficient stock",
			Code:    "out_of_stock",
			Details: fmt.Sprintf("product %d (%s): requested %d, available %d", oos.ProductID, oos.ProductName, oos.Requested, oos.Available),
		})
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "empty_cart", "cart is empty")
	case errors.Is(err, domain.ErrInvalidRequest):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request", Code: "invalid_request", Details: err.Error()})
	case errors.Is(err, domain.ErrInvalidStateTransition):
		respondJSON(w, http.StatusConflict, ErrorResponse{Error: "invalid state transition", Code: "invalid_state_transition", Details: err.Error()})
	case errors.As(err, &nf):
		respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found", Code: "not_found", Details: nf.Error()})
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "not found")
	default:
		requestLogger(r).Error().Err(err).Msg("request failed")
		code := "internal_error"
		if errors.Is(err, domain.ErrTransactionAborted) {
			code = "transaction_aborted"
		}
		respondError(w, http.StatusInternalServerError, code, "internal server error")
	}
}
