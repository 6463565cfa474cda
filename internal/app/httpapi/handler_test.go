package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	app "github.com/R3E-Network/marcasino/internal/app"
	"github.com/R3E-Network/marcasino/internal/app/domain/bet"
	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	"github.com/R3E-Network/marcasino/internal/app/events"
	"github.com/R3E-Network/marcasino/internal/app/services/betting"
	"github.com/R3E-Network/marcasino/internal/config"
	"github.com/R3E-Network/marcasino/internal/middleware"
	"github.com/R3E-Network/marcasino/pkg/logger"
	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const coin = treasury.UnitsPerCoin

type testServer struct {
	app     *app.Application
	clock   *clock.Mock
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Admin = "admin"
	cfg.VRF.Schedule = ""

	clk := clock.NewMock()
	clk.Add(24 * time.Hour)
	application, err := app.New(context.Background(), cfg, app.Stores{}, logger.Discard(), app.WithClock(clk))
	require.NoError(t, err)

	h, err := NewHandler(context.Background(), application, Options{Log: logger.Discard()})
	require.NoError(t, err)
	return &testServer{app: application, clock: clk, handler: h}
}

func (s *testServer) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(middleware.UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) balance(t *testing.T, player string, asset treasury.AssetID) int64 {
	t.Helper()
	rec := s.do(t, "", http.MethodGet, fmt.Sprintf("/treasury/balances/%s?asset=%d", player, asset), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[struct {
		Balance int64 `json:"balance"`
	}](t, rec).Balance
}

func TestCoinFlipRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "admin", http.MethodPost, "/admin/treasury/fund", amountPayload{Asset: 1, Amount: 1000 * coin})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, "alice", http.MethodPost, "/treasury/deposit", amountPayload{Asset: 1, Amount: 10 * coin})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	secret, err := betting.NewSecret()
	require.NoError(t, err)
	hash := betting.CommitmentHash("alice", 0, 1, coin, secret)

	rec = s.do(t, "alice", http.MethodPost, "/games/coinflip/commit", map[string]any{
		"hash":    hash.String(),
		"deposit": coin / 500,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	reveal := map[string]any{"param": 0, "asset": 1, "amount": coin, "secret": secret.String()}
	rec = s.do(t, "alice", http.MethodPost, "/games/coinflip/reveal", reveal)
	require.Equal(t, http.StatusTooEarly, rec.Code, rec.Body.String())
	require.Equal(t, "CommitmentNotReady", decode[map[string]string](t, rec)["code"])

	s.clock.Add(2 * time.Minute)
	rec = s.do(t, "alice", http.MethodPost, "/games/coinflip/reveal", reveal)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	req := decode[bet.Request](t, rec)
	require.Equal(t, coin, req.Stake)

	rec = s.do(t, "", http.MethodPost, "/games/coinflip/settle/"+strconv.FormatUint(uint64(req.ID), 10), nil)
	require.Equal(t, http.StatusTooEarly, rec.Code, rec.Body.String())

	rec = s.do(t, "alice", http.MethodPost, "/vrf/fulfill", map[string]any{"request_id": req.ID, "words": []string{"4"}})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	rec = s.do(t, "admin", http.MethodPost, "/vrf/fulfill", map[string]any{"request_id": req.ID, "words": []string{"4"}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(t, "", http.MethodPost, "/games/coinflip/settle/"+strconv.FormatUint(uint64(req.ID), 10), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[bet.Outcome](t, rec)
	require.True(t, out.Won)
	require.Equal(t, 198*coin/100, out.Payout)

	rec = s.do(t, "", http.MethodPost, "/games/coinflip/settle/"+strconv.FormatUint(uint64(req.ID), 10), nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	require.Equal(t, 10*coin-coin+out.Payout, s.balance(t, "alice", 1))
	// The slashing deposit comes back in the native asset.
	require.Equal(t, coin/500, s.balance(t, "alice", treasury.NativeAsset))

	rec = s.do(t, "", http.MethodGet, "/games/coinflip/history/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]bet.Request](t, rec), 1)
}

func TestCallerHeaderRequired(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, "", http.MethodPost, "/treasury/deposit", amountPayload{Asset: 1, Amount: coin})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestErrorCodes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "alice", http.MethodPost, "/games/roulette/commit", map[string]any{"deposit": coin / 500})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "GameNotFound", decode[map[string]string](t, rec)["code"])

	rec = s.do(t, "alice", http.MethodPost, "/treasury/withdraw", amountPayload{Asset: 1, Amount: coin})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = s.do(t, "alice", http.MethodPut, "/admin/house-edge", map[string]int64{"bps": 200})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, "alice", http.MethodPost, "/games/coinflip/commit", map[string]any{"unknown": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRegistersGameAndPauses(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "admin", http.MethodPost, "/admin/games", map[string]string{"name": "dice2", "kind": "dice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	_, err := s.app.Game("dice2")
	require.NoError(t, err)

	rec = s.do(t, "admin", http.MethodPost, "/admin/games", map[string]string{"name": "wheel", "kind": "wheel"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, "admin", http.MethodPost, "/admin/pause", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(t, "alice", http.MethodPost, "/games/dice2/commit", map[string]any{"hash": bet.Hash{1}.String(), "deposit": coin / 500})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())

	rec = s.do(t, "", http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decode[map[string]any](t, rec)["operational"])

	rec = s.do(t, "admin", http.MethodGet, "/admin/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decode[[]auditEntry](t, rec))
}

func TestLotteryRoutes(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, "bob", http.MethodPost, "/treasury/deposit", amountPayload{Asset: 1, Amount: 5 * coin})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, "bob", http.MethodPost, "/lottery/tickets", map[string]uint64{"count": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, "", http.MethodPost, "/lottery/draw", nil)
	require.Equal(t, http.StatusTooEarly, rec.Code, rec.Body.String())

	rec = s.do(t, "", http.MethodGet, "/lottery/round", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(2), decode[map[string]any](t, rec)["ticket_count"])
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/stream?type=" + events.TypeGameRegistered
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	got := make(chan events.Event, 1)
	go func() {
		var evt events.Event
		if err := conn.ReadJSON(&evt); err == nil {
			got <- evt
		}
	}()

	// The subscription is registered just after the handshake, so keep
	// producing events until one arrives.
	for i := 0; i < 100; i++ {
		rec := s.do(t, "admin", http.MethodPost, "/admin/games", map[string]string{"name": fmt.Sprintf("coin%d", i), "kind": "coinflip"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		select {
		case evt := <-got:
			require.Equal(t, events.TypeGameRegistered, evt.Type)
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("no event received on the stream")
}

func TestEventStreamRejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {srv.URL}})
	require.NoError(t, err)
	conn.Close()
}
