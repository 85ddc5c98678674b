package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"bridgewatch/internal/service"
)

// Defaults and bounds for request-list pagination.
const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Handlers implements the HTTP endpoints of the dashboard API.
type Handlers struct {
	engine StatusEngine
	stream UpdateStream
}

// requestStatusResponse is the wire shape of one evaluated request.
type requestStatusResponse struct {
	ID                string  `json:"id"`
	Kind              string  `json:"kind"`
	Status            string  `json:"status"`
	RequestedAmount   string  `json:"requestedAmount"`
	Currency          string  `json:"currency"`
	VaultID           string  `json:"vaultId"`
	EvaluatedAtHeight uint32  `json:"evaluatedAtHeight"`
	BitcoinTxID       string  `json:"bitcoinTxId,omitempty"`
	Confirmations     *uint32 `json:"confirmations,omitempty"`

	ConfirmedAtParachainHeight *uint32 `json:"confirmedAtParachainHeight,omitempty"`
}

// vaultResponse is the wire shape of one evaluated vault. Collateralization
// fields are decimal strings; null means unbounded and renders as "∞"
// client-side.
type vaultResponse struct {
	ID               string  `json:"id"`
	Status           string  `json:"status"`
	CollateralLocked string  `json:"collateralLocked"`
	IssuedTokens     string  `json:"issuedTokens"`
	PendingTokens    string  `json:"pendingTokens"`
	Settled          *string `json:"settledCollateralization"`
	Unsettled        *string `json:"unsettledCollateralization"`
	NearLiquidation  bool    `json:"nearLiquidation"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListRequests evaluates and returns a page of issue/redeem requests.
func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	evaluations, err := h.engine.EvaluateRequests(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to evaluate requests")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to evaluate requests"})
		return
	}

	out := make([]requestStatusResponse, 0, len(evaluations))
	for i := range evaluations {
		out = append(out, toRequestResponse(&evaluations[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRequestStatus evaluates and returns a single request's status.
func (h *Handlers) GetRequestStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	eval, err := h.engine.EvaluateRequestByID(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("requestId", id).Msg("failed to evaluate request")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to evaluate request"})
		return
	}
	if eval == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "request not found"})
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(eval))
}

// ListVaults evaluates and returns all vaults.
func (h *Handlers) ListVaults(w http.ResponseWriter, r *http.Request) {
	evaluations, err := h.engine.EvaluateVaults(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to evaluate vaults")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to evaluate vaults"})
		return
	}

	out := make([]vaultResponse, 0, len(evaluations))
	for i := range evaluations {
		out = append(out, toVaultResponse(&evaluations[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetVault evaluates and returns a single vault.
func (h *Handlers) GetVault(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	eval, err := h.engine.EvaluateVaultByID(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("vaultId", id).Msg("failed to evaluate vault")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to evaluate vault"})
		return
	}
	if eval == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "vault not found"})
		return
	}
	writeJSON(w, http.StatusOK, toVaultResponse(eval))
}

func toRequestResponse(eval *service.RequestEvaluation) requestStatusResponse {
	resp := requestStatusResponse{
		ID:                eval.Request.ID,
		Kind:              string(eval.Request.Kind),
		Status:            string(eval.Status),
		RequestedAmount:   eval.Request.RequestedWrappedAmount.Value().String(),
		Currency:          string(eval.Request.RequestedWrappedAmount.Currency()),
		VaultID:           eval.Request.VaultID,
		EvaluatedAtHeight: eval.EvaluatedAtHeight,
	}
	if eval.Evidence != nil && eval.Evidence.TransactionFound {
		resp.BitcoinTxID = eval.Evidence.TransactionID
		resp.Confirmations = eval.Evidence.Confirmations
		resp.ConfirmedAtParachainHeight = eval.Evidence.ConfirmedAtParachainHeight
	}
	return resp
}

func toVaultResponse(eval *service.VaultEvaluation) vaultResponse {
	resp := vaultResponse{
		ID:               eval.Vault.ID,
		Status:           string(eval.Status),
		CollateralLocked: eval.Vault.CollateralLocked.Value().String(),
		IssuedTokens:     eval.Vault.IssuedTokens.Value().String(),
		PendingTokens:    eval.Vault.ToBeIssuedTokens.Value().String(),
		NearLiquidation:  eval.NearLiquidation,
	}
	if eval.SettledRatio != nil {
		s := eval.SettledRatio.String()
		resp.Settled = &s
	}
	if eval.UnsettledRatio != nil {
		s := eval.UnsettledRatio.String()
		resp.Unsettled = &s
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
