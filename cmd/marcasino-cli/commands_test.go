package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/R3E-Network/marcasino/internal/app/domain/bet"
	"github.com/R3E-Network/marcasino/internal/app/services/betting"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return strings.TrimSpace(out.String()), err
}

func TestHashMatchesEngine(t *testing.T) {
	secret := bet.Hash{31: 9}
	out, err := run(t, "hash", "-u", "alice", "-p", "1", "-n", "100000000", "-s", secret.String())
	require.NoError(t, err)
	require.Equal(t, betting.CommitmentHash("alice", 1, 1, 100000000, secret).String(), out)

	_, err = run(t, "hash", "-n", "1", "-s", secret.String())
	require.Error(t, err)
}

func TestCommitPostsDerivedHash(t *testing.T) {
	var got map[string]any
	var user string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/games/dice/commit", r.URL.Path)
		user = r.Header.Get("X-User-ID")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"game":"dice"}`))
	}))
	defer srv.Close()

	secret := bet.Hash{31: 3}
	_, err := run(t, "commit", "dice", "--server", srv.URL, "-u", "bob", "-n", "5000000", "-s", secret.String())
	require.NoError(t, err)
	require.Equal(t, "bob", user)
	require.Equal(t, betting.CommitmentHash("bob", 0, 1, 5000000, secret).String(), got["hash"])
	require.Equal(t, float64(200000), got["deposit"])
}

func TestCallSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"already settled","code":"AlreadySettled"}`))
	}))
	defer srv.Close()

	_, err := run(t, "settle", "dice", "7", "--server", srv.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "AlreadySettled")
}
