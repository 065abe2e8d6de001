package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

func TestRepositoryListEligibleBoundary(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	seller := uuid.New()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	due := dbtest.SeedEntry(t, conn, seller, "10.00", now.AddDate(0, 0, -30), 30)
	dbtest.SeedEntry(t, conn, seller, "20.00", now.AddDate(0, 0, -29), 30)
	paid := dbtest.SeedEntry(t, conn, seller, "30.00", now.AddDate(0, 0, -40), 30)
	require.NoError(t, repo.UpdateFields(context.Background(), paid.ID, map[string]any{"payed_out": true}))
	released := dbtest.SeedEntry(t, conn, seller, "40.00", now.AddDate(0, 0, -40), 30)
	require.NoError(t, repo.UpdateFields(context.Background(), released.ID, map[string]any{"status": enums.TransactionStatusReleased}))
	dbtest.SeedEntry(t, conn, uuid.New(), "50.00", now.AddDate(0, 0, -40), 30)

	rows, err := repo.ListEligible(context.Background(), seller, now, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, due.ID, rows[0].ID)
}

func TestRepositoryListSellersWithEligible(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sellerA, sellerB, sellerC := uuid.New(), uuid.New(), uuid.New()

	dbtest.SeedEntry(t, conn, sellerA, "10.00", now.AddDate(0, 0, -31), 30)
	dbtest.SeedEntry(t, conn, sellerA, "11.00", now.AddDate(0, 0, -35), 30)
	dbtest.SeedEntry(t, conn, sellerB, "12.00", now.AddDate(0, 0, -30), 30)
	dbtest.SeedEntry(t, conn, sellerC, "13.00", now.AddDate(0, 0, -1), 30)

	ids, err := repo.ListSellersWithEligible(context.Background(), now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{sellerA, sellerB}, ids)
}
