package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keyrotor/keyrotor/internal/config"
)

func TestPostgresRoundTrip(t *testing.T) {
	url := os.Getenv("KEYROTOR_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("KEYROTOR_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	gw, err := Open(ctx, config.StoreConfig{Driver: "postgres", URL: url, MaxConns: 2})
	require.NoError(t, err)
	defer func() { _ = gw.Close() }()

	want := samplePool()
	require.NoError(t, gw.Save(ctx, want))
	got, err := gw.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, gw.Save(ctx, nil))
	got, err = gw.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}
