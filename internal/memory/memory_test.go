// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRememberAndRetrieve(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Remember(ctx, "the deploy pipeline uses blue-green rollout"))
	require.NoError(t, store.Remember(ctx, "user prefers tabs over spaces"))
	require.NoError(t, store.Remember(ctx, "database is postgres 15 on RDS"))

	got, err := store.Retrieve(ctx, "how does the deploy pipeline work", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Contains(t, got[0].Text, "blue-green")
}

func TestStoreRetrieveRespectsLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Remember(ctx, "project alpha deadline is friday"))
	require.NoError(t, store.Remember(ctx, "project beta deadline slipped"))
	require.NoError(t, store.Remember(ctx, "project gamma deadline unknown"))

	got, err := store.Retrieve(ctx, "project deadline", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestStoreRetrieveNoMatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Remember(ctx, "completely unrelated note"))

	got, err := store.Retrieve(ctx, "kubernetes ingress", 3)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStoreTagsParticipateInRanking(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Remember(ctx, "rollout procedure documented in wiki", "deployment", "infra"))
	require.NoError(t, store.Remember(ctx, "team lunch is on thursdays"))

	got, err := store.Retrieve(ctx, "deployment infra questions", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []string{"deployment", "infra"}, got[0].Tags)
}

func TestStoreRememberIgnoresEmpty(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Remember(context.Background(), "   "))

	got, err := store.Retrieve(context.Background(), "anything at all", 5)
	require.NoError(t, err)
	require.Empty(t, got)
}
