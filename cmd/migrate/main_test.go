// ABOUTME: Tests for the backend migration utility
// ABOUTME: Copies deals from SQLite into a badger-backed charm client

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deangilmoreremix/update3.0-new-sub002/charm"
	"github.com/deangilmoreremix/update3.0-new-sub002/db"
	"github.com/deangilmoreremix/update3.0-new-sub002/logging"
	"github.com/deangilmoreremix/update3.0-new-sub002/models"
	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededSQLite(t *testing.T) *db.DealGateway {
	t.Helper()
	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "src.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	gw := db.NewDealGateway(database)
	ctx := context.Background()
	for _, rec := range []models.Record{
		{models.FieldTitle: "Alpha", models.FieldAmount: 100.0, models.FieldStage: "proposal", models.FieldUserID: "u1"},
		{models.FieldTitle: "Beta", models.FieldAmount: 200.0, models.FieldStage: "closed-won", models.FieldUserID: "u2"},
	} {
		_, err := gw.Create(ctx, rec)
		require.NoError(t, err)
	}
	return gw
}

func TestCopyDeals(t *testing.T) {
	ctx := context.Background()
	src := seededSQLite(t)
	dst := charm.NewDealGateway(charm.NewTestClient(t))

	n, err := copyDeals(ctx, logging.Discard(), src, dst, "", false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	srcRecs, err := src.List(ctx, "")
	require.NoError(t, err)
	dstRecs, err := dst.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, dstRecs, 2)

	now := time.Now()
	for i := range srcRecs {
		want := pipeline.NormalizeRecord(srcRecs[i], now)
		got := pipeline.NormalizeRecord(dstRecs[i], now)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Stage, got.Stage)
		assert.Equal(t, want.Value, got.Value)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	}

	n, err = copyDeals(ctx, logging.Discard(), src, dst, "", false)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second run copies nothing")
}

func TestCopyDealsDryRunAndUserFilter(t *testing.T) {
	ctx := context.Background()
	src := seededSQLite(t)
	dst := charm.NewDealGateway(charm.NewTestClient(t))

	n, err := copyDeals(ctx, logging.Discard(), src, dst, "u1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, err := dst.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestBackupFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.db")

	require.NoError(t, backupFile(logging.Discard(), path), "missing file is not an error")

	require.NoError(t, os.WriteFile(path, []byte("data"), 0600))
	require.NoError(t, backupFile(logging.Discard(), path))

	matches, err := filepath.Glob(path + ".backup.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
