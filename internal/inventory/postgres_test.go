package inventory

import (
	"context"
	"os"
	"testing"

	"pos_engine/internal/platform/database"

	"github.com/stretchr/testify/require"
)

// Set POS_TEST_DATABASE_URL to a scratch database to run these tests.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("POS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("POS_TEST_DATABASE_URL not set")
	}

	runStoreContract(t, func(t *testing.T) Store {
		ctx := context.Background()
		pool, err := database.ConnectPostgres(ctx, url)
		require.NoError(t, err)
		t.Cleanup(pool.Close)

		s, err := NewPostgresStore(ctx, pool)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `TRUNCATE products`)
		require.NoError(t, err)
		return s
	})
}
