package httpapi

import (
	"net/http"
	"strconv"

	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/gorilla/mux"
)

func (h *handler) lotteryRoutes(r *mux.Router) {
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if h.app.Lottery == nil {
				writeError(w, apperrors.New(apperrors.KindGameNotFound, "lottery is disabled"))
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.HandleFunc("/tickets", h.buyTickets).Methods(http.MethodPost)
	r.HandleFunc("/draw", h.requestDraw).Methods(http.MethodPost)
	r.HandleFunc("/settle/{id}", h.settleDraw).Methods(http.MethodPost)
	r.HandleFunc("/retry/{id}", h.retryDraw).Methods(http.MethodPost)
	r.HandleFunc("/round", h.currentRound).Methods(http.MethodGet)
	r.HandleFunc("/rounds/{round}", h.round).Methods(http.MethodGet)
	r.HandleFunc("/rounds/{round}/tickets", h.tickets).Methods(http.MethodGet)
	r.HandleFunc("/results/{id}", h.lotteryResult).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}", h.drawRequest).Methods(http.MethodGet)
}

func (h *handler) buyTickets(w http.ResponseWriter, r *http.Request) {
	player, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Count uint64 `json:"count"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	batch, err := h.app.Lottery.BuyTickets(r.Context(), player, payload.Count)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (h *handler) requestDraw(w http.ResponseWriter, r *http.Request) {
	round, err := h.app.Lottery.RequestDraw(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, round)
}

func (h *handler) settleDraw(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	res, err := h.app.Lottery.Settle(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) retryDraw(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	req, err := h.app.Lottery.Retry(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (h *handler) currentRound(w http.ResponseWriter, r *http.Request) {
	round, err := h.app.Lottery.CurrentRound(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (h *handler) round(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(w, r)
	if !ok {
		return
	}
	round, err := h.app.Lottery.Round(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (h *handler) tickets(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(w, r)
	if !ok {
		return
	}
	batches, err := h.app.Lottery.Tickets(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (h *handler) lotteryResult(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	res, err := h.app.Lottery.ResultOf(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) drawRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	req, err := h.app.Lottery.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func roundID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["round"], 10, 64)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return 0, false
	}
	return id, true
}
