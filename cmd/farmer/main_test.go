package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/domain/models"
	"github.com/mamadbah2/farmledger/internal/service/inventory"
	"github.com/mamadbah2/farmledger/internal/testutil"
)

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "reconcile", "sweep-vaccinations"}, names)
}

func TestReconcileNeedsExactlyOneTarget(t *testing.T) {
	for _, args := range [][]string{
		{"reconcile"},
		{"reconcile", "--owner", "o1", "--all"},
	} {
		root := newRootCommand()
		root.SetArgs(args)
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		assert.ErrorContains(t, root.Execute(), "exactly one of --owner or --all", args)
	}
}

func TestReconcileOwners(t *testing.T) {
	store := testutil.NewTestStore(t)
	inv := inventory.NewService(store, nil)
	a := &app{store: store, inventory: inv, logger: zap.NewNop()}
	ctx := context.Background()

	_, err := inv.RecordRestock(ctx, "o1", []models.Movement{{FeedType: "C1", Bags: 4}}, nil)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, reconcileOwners(ctx, a, []string{"o1"}, false, &out))
	assert.Equal(t, "o1: stock matches ledger\n", out.String())

	feedTypes, err := store.ListFeedTypes(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, feedTypes, 1)
	require.NoError(t, store.SetFeedStock(ctx, feedTypes[0].ID, 999))

	out.Reset()
	err = reconcileOwners(ctx, a, []string{"o1"}, false, &out)
	assert.ErrorIs(t, err, errDrift)
	assert.Contains(t, out.String(), "- C1: cached 999 kg, ledger 200 kg")

	out.Reset()
	require.NoError(t, reconcileOwners(ctx, a, []string{"o1"}, true, &out))
	assert.Contains(t, out.String(), "repaired")

	out.Reset()
	require.NoError(t, reconcileOwners(ctx, a, []string{"o1"}, false, &out))
	assert.Equal(t, "o1: stock matches ledger\n", out.String())
}
