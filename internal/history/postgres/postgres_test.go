package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/NTOM/piskel2Houdini/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	attempt := history.Attempt{
		UUID:       "room-pg",
		Kind:       "room_generation",
		OK:         true,
		ExitCode:   0,
		ElapsedMS:  2100,
		UserID:     "carol",
		SourceFile: "/proj/scene.hip",
	}
	if err := sink.Send(ctx, history.NewEvent(attempt)); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}

	attempt.OK = false
	attempt.ExitCode = -1
	attempt.TimedOut = true
	if err := sink.Send(ctx, history.NewEvent(attempt)); err != nil {
		t.Fatalf("Failed to send second event: %v", err)
	}

	var count int
	row := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cook_history WHERE uuid = $1", attempt.UUID)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events in history, got %d", count)
	}
}
