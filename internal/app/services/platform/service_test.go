package platform

import (
	"context"
	"testing"

	"github.com/R3E-Network/marcasino/internal/app/domain/access"
	"github.com/R3E-Network/marcasino/internal/app/events"
	accesssvc "github.com/R3E-Network/marcasino/internal/app/services/access"
	"github.com/R3E-Network/marcasino/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *accesssvc.Policy, *events.Bus) {
	t.Helper()
	store := memory.New()
	policy := accesssvc.New(store, nil)
	require.NoError(t, policy.Bootstrap(context.Background(), "admin"))
	bus := events.NewBus(0)
	return New(store, policy, bus, clock.NewMock(), 100, nil), policy, bus
}

func TestRegisterGameGrantsRole(t *testing.T) {
	svc, policy, bus := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterGame(ctx, "bob", "coin", "coinflip")
	require.ErrorIs(t, err, apperrors.ErrNotAuthorized)

	game, err := svc.RegisterGame(ctx, "admin", "coin", "coinflip")
	require.NoError(t, err)
	require.Equal(t, "coin", game.Name)

	_, err = svc.RegisterGame(ctx, "admin", "coin", "coinflip")
	require.ErrorIs(t, err, apperrors.ErrAlreadyRegistered)

	ok, err := policy.Has(ctx, "coin", access.RoleGame)
	require.NoError(t, err)
	require.True(t, ok)

	games, err := svc.Games(ctx)
	require.NoError(t, err)
	require.Len(t, games, 1)
	require.Len(t, bus.Recent(events.TypeGameRegistered), 1)

	_, err = svc.Game(ctx, "dice")
	require.ErrorIs(t, err, apperrors.ErrGameNotFound)
}

func TestSetHouseEdgeBounds(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	edge, err := svc.HouseEdge(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(100), edge)

	require.ErrorIs(t, svc.SetHouseEdge(ctx, "admin", 99), apperrors.ErrInvalidHouseEdge)
	require.ErrorIs(t, svc.SetHouseEdge(ctx, "admin", 1001), apperrors.ErrInvalidHouseEdge)
	require.NoError(t, svc.SetHouseEdge(ctx, "admin", 1000))

	edge, err = svc.HouseEdge(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1000), edge)
}

func TestEmergencyPause(t *testing.T) {
	svc, _, bus := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.EmergencyPause(ctx, "bob"), apperrors.ErrNotAuthorized)
	require.NoError(t, svc.EmergencyPause(ctx, "admin"))
	ok, err := svc.IsOperational(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, svc.Unpause(ctx, "admin"))
	ok, err = svc.IsOperational(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, bus.Recent(events.TypeOperationalChanged), 2)
}

func TestEnsureGameIsIdempotent(t *testing.T) {
	svc, policy, bus := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureGame(ctx, "dice", "dice")
	require.NoError(t, err)
	again, err := svc.EnsureGame(ctx, "dice", "dice")
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.Len(t, bus.Recent(events.TypeGameRegistered), 1)

	ok, err := policy.Has(ctx, "dice", access.RoleGame)
	require.NoError(t, err)
	require.True(t, ok)
}
