//go:build integration

package gorm

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm/logger"

	"github.com/thebtf/photodedup/pkg/models"
)

// startPostgres runs a throwaway PostgreSQL container and returns a store on it.
func startPostgres(t *testing.T) *SetStore {
	t.Helper()

	// Ryuk can misbehave in CI sandboxes
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "photodedup",
				"POSTGRES_PASSWORD": "photodedup",
				"POSTGRES_DB":       "photodedup",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	store, err := NewStore(Config{
		Driver:   DriverPostgres,
		DSN:      fmt.Sprintf("postgres://photodedup:photodedup@%s:%s/photodedup?sslmode=disable", host, port.Port()),
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)

	setStore := NewSetStore(store)
	t.Cleanup(func() {
		setStore.Close()
		_ = store.Close()
	})
	return setStore
}

func TestPostgres_SetLifecycle(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	a := testPhoto("a", 0, 1, 2, 3)
	b := testPhoto("b", time.Minute, 1, 2, 3)
	require.NoError(t, s.UpsertSet(ctx, testSet(true, a, b)))

	sets, err := s.GetSetsInWindow(ctx, models.HourWindow(baseTime))
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, []string{"a", "b"}, sets[0].MemberIDs)
	assert.Equal(t, models.NeighborList{1, 2, 3}, sets[0].Members[1].NeighborIDs)

	removed, err := s.DeleteMembers(ctx, "a", []int{1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, removed)

	ok, err := s.SetVisible(ctx, "a", false)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Reset(ctx))
	count, err := s.CountPhotos(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
