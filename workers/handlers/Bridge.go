package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi"

	"xrplbridge/logging"
	"xrplbridge/types"
	"xrplbridge/workers/pool"
)

// Dispatcher is the part of workers.Dispatcher used by the API
type Dispatcher interface {
	CreateXRPLToEVM(ctx context.Context, amount, sourceAddress, destinationAddress, sourceSeed string) (*types.BridgeRequest, *pool.Handle, error)
	CreateEVMToXRPL(ctx context.Context, amount, sourceAddress, destinationAddress string) (*types.BridgeRequest, *pool.Handle, error)
	Status(ctx context.Context, requestID string) (*types.BridgeRequest, error)
}

type SourceToDestRequest struct {
	Amount             string `json:"amount"`
	SourceAddress      string `json:"sourceAddress"`
	SourceSeed         string `json:"sourceSeed"`
	DestinationAddress string `json:"destinationAddress"`
}

type DestToSourceRequest struct {
	Amount             string `json:"amount"`
	SourceAddress      string `json:"sourceAddress"`
	DestinationAddress string `json:"destinationAddress"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	logger := logging.LoggerFromContext(r.Context())
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.WithError(err).Warn("can't read request body")
		responseError(w, "", "Error reading request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		logger.WithError(err).Warn("can't unmarshal request body")
		responseError(w, "", "Cannot unmarshal input JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func validateAmount(w http.ResponseWriter, amount string) bool {
	if amount == "" {
		responseError(w, "amount", "amount is required", http.StatusBadRequest)
		return false
	}
	if err := types.ValidateAmount(amount); err != nil {
		responseError(w, "amount", "amount must be a positive decimal number", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handlers) created(w http.ResponseWriter, r *http.Request, req *types.BridgeRequest, err error) {
	logger := logging.LoggerFromContext(r.Context())
	switch {
	case err == nil:
		responseJSON(w, &APICreateResponse{
			Status:    "ok",
			RequestID: req.RequestID,
			Message:   "bridge request accepted, poll its status for the outcome",
		}, http.StatusCreated)
	case errors.Is(err, types.ErrValidation):
		responseError(w, "", err.Error(), http.StatusBadRequest)
	case errors.Is(err, pool.ErrQueueFull), errors.Is(err, pool.ErrShuttingDown):
		logger.WithError(err).Warn("bridge request rejected")
		responseError(w, "", "Bridge is busy, try again later", http.StatusServiceUnavailable)
	default:
		logger.WithError(err).Error("can't create bridge request")
		responseError(w, "", "Error creating bridge request", http.StatusInternalServerError)
	}
}

// CreateSourceToDest bridges XRP from the ledger to the sidechain
func (h *Handlers) CreateSourceToDest(w http.ResponseWriter, r *http.Request) {
	var body SourceToDestRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if !validateAmount(w, body.Amount) {
		return
	}
	if !validXRPLAddress(body.SourceAddress) {
		responseError(w, "sourceAddress", "No XRPL address or invalid address provided", http.StatusBadRequest)
		return
	}
	if body.DestinationAddress != "" && !validEVMAddress(body.DestinationAddress) {
		responseError(w, "destinationAddress", "Invalid EVM address provided", http.StatusBadRequest)
		return
	}

	req, _, err := h.Dispatcher.CreateXRPLToEVM(r.Context(), body.Amount, body.SourceAddress, body.DestinationAddress, body.SourceSeed)
	h.created(w, r, req, err)
}

// CreateDestToSource bridges XRP from the sidechain back to the ledger
func (h *Handlers) CreateDestToSource(w http.ResponseWriter, r *http.Request) {
	var body DestToSourceRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if !validateAmount(w, body.Amount) {
		return
	}
	if !validEVMAddress(body.SourceAddress) {
		responseError(w, "sourceAddress", "No EVM address or invalid address provided", http.StatusBadRequest)
		return
	}
	if !validXRPLAddress(body.DestinationAddress) {
		responseError(w, "destinationAddress", "No XRPL address or invalid address provided", http.StatusBadRequest)
		return
	}

	req, _, err := h.Dispatcher.CreateEVMToXRPL(r.Context(), body.Amount, body.SourceAddress, body.DestinationAddress)
	h.created(w, r, req, err)
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestId")
	if id == "" {
		responseError(w, "requestId", "requestId is required", http.StatusBadRequest)
		return
	}
	req, err := h.Dispatcher.Status(r.Context(), id)
	if errors.Is(err, types.ErrNotFound) {
		responseError(w, "requestId", "Bridge request not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.LoggerFromContext(r.Context()).WithError(err).Error("can't get bridge request")
		responseError(w, "", "Error getting bridge request", http.StatusInternalServerError)
		return
	}
	responseJSON(w, req, http.StatusOK)
}
