package httpapi

import (
	"context"
	"net/http"

	"github.com/R3E-Network/marcasino/internal/app/domain/access"
	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	"github.com/gorilla/mux"
)

func (h *handler) vrfRoutes(r *mux.Router) {
	r.HandleFunc("/fulfill", h.fulfill).Methods(http.MethodPost)
	r.HandleFunc("/sweep", h.sweep).Methods(http.MethodPost)
	r.HandleFunc("/pending", h.pending).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}", h.randomRequest).Methods(http.MethodGet)
}

func (h *handler) adminRoutes(r *mux.Router) {
	r.HandleFunc("/games", h.registerGame).Methods(http.MethodPost)
	r.HandleFunc("/house-edge", h.setHouseEdge).Methods(http.MethodPut)
	r.HandleFunc("/pause", h.pause).Methods(http.MethodPost)
	r.HandleFunc("/unpause", h.unpause).Methods(http.MethodPost)
	r.HandleFunc("/platform", h.platformSettings).Methods(http.MethodGet)
	r.HandleFunc("/treasury/pause", h.pauseTreasury).Methods(http.MethodPost)
	r.HandleFunc("/treasury/unpause", h.unpauseTreasury).Methods(http.MethodPost)
	r.HandleFunc("/treasury/bet-limits", h.setBetLimits).Methods(http.MethodPut)
	r.HandleFunc("/treasury/payout-ratio", h.setPayoutRatio).Methods(http.MethodPut)
	r.HandleFunc("/treasury/assets", h.allowAsset).Methods(http.MethodPost)
	r.HandleFunc("/treasury/fund", h.fund).Methods(http.MethodPost)
	r.HandleFunc("/treasury/earnings/withdraw", h.withdrawEarnings).Methods(http.MethodPost)
	r.HandleFunc("/roles", h.listRoles).Methods(http.MethodGet)
	r.HandleFunc("/roles", h.grantRole).Methods(http.MethodPost)
	r.HandleFunc("/roles", h.revokeRole).Methods(http.MethodDelete)
	r.HandleFunc("/events", h.recentEvents).Methods(http.MethodGet)
	r.HandleFunc("/audit", h.auditTrail).Methods(http.MethodGet)
}

func (h *handler) fulfill(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	var payload struct {
		RequestID random.RequestID `json:"request_id"`
		Words     []random.Word    `json:"words"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.VRF.Fulfill(r.Context(), payload.RequestID, payload.Words); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) sweep(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	n, err := h.app.Provider.FulfillPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"fulfilled": n})
}

func (h *handler) pending(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.app.VRF.Pending(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	if reqs == nil {
		reqs = []random.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *handler) randomRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	req, err := h.app.VRF.Request(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) registerGame(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	if _, err := h.app.RegisterGame(r.Context(), admin, payload.Name, payload.Kind); err != nil {
		writeError(w, err)
		return
	}
	game, err := h.app.Platform.Game(r.Context(), payload.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, game)
}

func (h *handler) setHouseEdge(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Bps int64 `json:"bps"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Platform.SetHouseEdge(r.Context(), admin, payload.Bps); err != nil {
		writeError(w, err)
		return
	}
	h.platformSettings(w, r)
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.app.Platform.EmergencyPause)
}

func (h *handler) unpause(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.app.Platform.Unpause)
}

func (h *handler) pauseTreasury(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.app.Treasury.Pause)
}

func (h *handler) unpauseTreasury(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.app.Treasury.Unpause)
}

func (h *handler) platformSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.app.Platform.Settings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *handler) setBetLimits(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		MinBet int64 `json:"min_bet"`
		MaxBet int64 `json:"max_bet"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Treasury.SetBetLimits(r.Context(), admin, payload.MinBet, payload.MaxBet); err != nil {
		writeError(w, err)
		return
	}
	h.treasurySettings(w, r)
}

func (h *handler) setPayoutRatio(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Ratio int64 `json:"ratio"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Treasury.SetMaxSinglePayoutRatio(r.Context(), admin, payload.Ratio); err != nil {
		writeError(w, err)
		return
	}
	h.treasurySettings(w, r)
}

func (h *handler) allowAsset(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Asset treasury.AssetID `json:"asset"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Treasury.AllowAsset(r.Context(), admin, payload.Asset); err != nil {
		writeError(w, err)
		return
	}
	h.treasurySettings(w, r)
}

func (h *handler) fund(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var payload amountPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Treasury.Fund(r.Context(), admin, payload.Asset, payload.Amount); err != nil {
		writeError(w, err)
		return
	}
	h.writePool(w, r, payload.Asset)
}

func (h *handler) withdrawEarnings(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var payload amountPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Treasury.WithdrawHouseEarnings(r.Context(), admin, payload.Asset, payload.Amount); err != nil {
		writeError(w, err)
		return
	}
	h.writePool(w, r, payload.Asset)
}

func (h *handler) writePool(w http.ResponseWriter, r *http.Request, asset treasury.AssetID) {
	pool, err := h.app.Treasury.Pool(r.Context(), asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

type rolePayload struct {
	Subject string      `json:"subject"`
	Role    access.Role `json:"role"`
}

func (h *handler) listRoles(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	grants, err := h.app.Access.Grants(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grants)
}

func (h *handler) grantRole(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var payload rolePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Access.Grant(r.Context(), admin, payload.Subject, payload.Role); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, access.Grant{Subject: payload.Subject, Role: payload.Role})
}

func (h *handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var payload rolePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Access.Revoke(r.Context(), admin, payload.Subject, payload.Role); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.app.Bus.Recent(r.URL.Query().Get("type")))
}

func (h *handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(queryInt(r, "limit", 100)))
}

func (h *handler) adminAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, caller string) error) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), admin); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
