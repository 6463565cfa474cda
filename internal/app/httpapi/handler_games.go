package httpapi

import (
	"net/http"

	"github.com/R3E-Network/marcasino/internal/app/domain/bet"
	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	"github.com/R3E-Network/marcasino/internal/app/services/betting"
	"github.com/gorilla/mux"
)

func (h *handler) gameRoutes(r *mux.Router) {
	r.HandleFunc("", h.listGames).Methods(http.MethodGet)
	r.HandleFunc("/{game}", h.getGame).Methods(http.MethodGet)
	r.HandleFunc("/{game}/commit", h.withGame(h.commit)).Methods(http.MethodPost)
	r.HandleFunc("/{game}/reveal", h.withGame(h.reveal)).Methods(http.MethodPost)
	r.HandleFunc("/{game}/reclaim", h.withGame(h.reclaim)).Methods(http.MethodPost)
	r.HandleFunc("/{game}/settle/{id}", h.withGame(h.settle)).Methods(http.MethodPost)
	r.HandleFunc("/{game}/retry/{id}", h.withGame(h.retry)).Methods(http.MethodPost)
	r.HandleFunc("/{game}/refund/{id}", h.withGame(h.refund)).Methods(http.MethodPost)
	r.HandleFunc("/{game}/commitments/{player}", h.withGame(h.commitment)).Methods(http.MethodGet)
	r.HandleFunc("/{game}/requests/{id}", h.withGame(h.betRequest)).Methods(http.MethodGet)
	r.HandleFunc("/{game}/outcomes/{id}", h.withGame(h.betOutcome)).Methods(http.MethodGet)
	r.HandleFunc("/{game}/history/{player}", h.withGame(h.history)).Methods(http.MethodGet)
}

type gameHandler func(w http.ResponseWriter, r *http.Request, game *betting.Game)

func (h *handler) withGame(fn gameHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		game, err := h.app.Game(mux.Vars(r)["game"])
		if err != nil {
			writeError(w, err)
			return
		}
		fn(w, r, game)
	}
}

func (h *handler) listGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.app.Platform.Games(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

func (h *handler) getGame(w http.ResponseWriter, r *http.Request) {
	game, err := h.app.Platform.Game(r.Context(), mux.Vars(r)["game"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (h *handler) commit(w http.ResponseWriter, r *http.Request, game *betting.Game) {
	player, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Hash    bet.Hash `json:"hash"`
		Deposit int64    `json:"deposit"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	c, err := game.Commit(r.Context(), player, payload.Hash, payload.Deposit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *handler) reveal(w http.ResponseWriter, r *http.Request, game *betting.Game) {
	player, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Param  uint8            `json:"param"`
		Asset  treasury.AssetID `json:"asset"`
		Amount int64            `json:"amount"`
		Secret bet.Hash         `json:"secret"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}
	req, err := game.Reveal(r.Context(), player, payload.Param, payload.Asset, payload.Amount, payload.Secret)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (h *handler) reclaim(w http.ResponseWriter, r *http.Request, game *betting.Game) {
	player, ok := caller(w, r)
	if !ok {
		return
	}
	amount, err := game.ReclaimDeposit(r.Context(), player)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"player": player, "reclaimed": amount})
}

func (h *handler) settle(w http.ResponseWriter, r *http.Request, game *betting.Game) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	out, err := game.Settle(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) retry(w http.ResponseWriter, r *http.Request, game *betting.Game) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	req, err := game.Retry(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (h *handler) refund(w http.ResponseWriter, r *http.Request, game *betting.Game) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	req, err := game.Refund(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) commitment(w http.ResponseWriter, r *http.Request, game *betting.Game) {
	c, err := game.Commitment(r.Context(), mux.Vars(r)["player"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) betRequest(w http.ResponseWriter, r *http.Request, game *betting.Game) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	req, err := game.Request(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) betOutcome(w http.ResponseWriter, r *http.Request, game *betting.Game) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	out, err := game.Outcome(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) history(w http.ResponseWriter, r *http.Request, game *betting.Game) {
	reqs, err := game.History(r.Context(), mux.Vars(r)["player"], queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	if reqs == nil {
		reqs = []bet.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}
