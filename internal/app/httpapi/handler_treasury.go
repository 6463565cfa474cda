package httpapi

import (
	"net/http"
	"strconv"

	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	"github.com/gorilla/mux"
)

type amountPayload struct {
	Asset  treasury.AssetID `json:"asset"`
	Amount int64            `json:"amount"`
}

func (h *handler) treasuryRoutes(r *mux.Router) {
	r.HandleFunc("/deposit", h.deposit).Methods(http.MethodPost)
	r.HandleFunc("/withdraw", h.withdraw).Methods(http.MethodPost)
	r.HandleFunc("/balances/{player}", h.balance).Methods(http.MethodGet)
	r.HandleFunc("/journal/{player}", h.journal).Methods(http.MethodGet)
	r.HandleFunc("/stats/{asset}", h.stats).Methods(http.MethodGet)
	r.HandleFunc("/settings", h.treasurySettings).Methods(http.MethodGet)
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	player, ok := caller(w, r)
	if !ok {
		return
	}
	var payload amountPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Treasury.DepositAsset(r.Context(), player, payload.Asset, payload.Amount); err != nil {
		writeError(w, err)
		return
	}
	h.writeBalance(w, r, player, payload.Asset)
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	player, ok := caller(w, r)
	if !ok {
		return
	}
	var payload amountPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Treasury.WithdrawAsset(r.Context(), player, payload.Asset, payload.Amount); err != nil {
		writeError(w, err)
		return
	}
	h.writeBalance(w, r, player, payload.Asset)
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	asset, ok := assetParam(w, r.URL.Query().Get("asset"))
	if !ok {
		return
	}
	h.writeBalance(w, r, mux.Vars(r)["player"], asset)
}

func (h *handler) writeBalance(w http.ResponseWriter, r *http.Request, player string, asset treasury.AssetID) {
	bal, err := h.app.Treasury.BalanceOfAsset(r.Context(), player, asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"player": player, "asset": asset, "balance": bal})
}

func (h *handler) journal(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Treasury.Journal(r.Context(), mux.Vars(r)["player"], queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	asset, ok := assetParam(w, mux.Vars(r)["asset"])
	if !ok {
		return
	}
	stats, err := h.app.Treasury.Stats(r.Context(), asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) treasurySettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.app.Treasury.Settings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func assetParam(w http.ResponseWriter, raw string) (treasury.AssetID, bool) {
	if raw == "" {
		return treasury.NativeAsset, true
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return 0, false
	}
	return treasury.AssetID(v), true
}
