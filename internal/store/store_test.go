package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
)

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestNewStorePingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveFindingDedup(t *testing.T) {
	s, mockPool := newTestStore(t)
	ctx := context.Background()

	f := schemas.Finding{
		JobID:       "job-1",
		Category:    "Ports",
		Title:       "Exposed Service: 22/tcp (ssh)",
		Severity:    schemas.SeverityInfo,
		Description: "Port 22 is exposed.",
	}

	// First write inserts a row; the identical second write conflicts away
	// silently. Neither is an error.
	mockPool.ExpectExec(`INSERT INTO findings`).
		WithArgs("job-1", "Ports", "[Ports] Exposed Service: 22/tcp (ssh)",
			"INFO", "Port 22 is exposed.", nil, nil, nil, nil, nil, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(`INSERT INTO findings`).
		WithArgs("job-1", "Ports", "[Ports] Exposed Service: 22/tcp (ssh)",
			"INFO", "Port 22 is exposed.", nil, nil, nil, nil, nil, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, s.SaveFinding(ctx, f))
	require.NoError(t, s.SaveFinding(ctx, f))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveFindingClampsFields(t *testing.T) {
	s, mockPool := newTestStore(t)

	longDesc := strings.Repeat("d", 1500)
	longEvidence := strings.Repeat("e", 2500)

	mockPool.ExpectExec(`INSERT INTO findings`).
		WithArgs("job-1", "XSS", "[XSS] Reflected payload", "HIGH",
			longDesc[:1000], longEvidence[:2000], nil, nil, nil, nil, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveFinding(context.Background(), schemas.Finding{
		JobID:       "job-1",
		Category:    "XSS",
		Title:       "Reflected payload",
		Severity:    schemas.SeverityHigh,
		Description: longDesc,
		Evidence:    longEvidence,
	})
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveFindingRejectsUnknownSeverity(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.SaveFinding(context.Background(), schemas.Finding{
		JobID: "job-1", Category: "Misc", Title: "x", Severity: "EXTREME",
	})
	require.Error(t, err)
}

func TestTransitionJob(t *testing.T) {
	ctx := context.Background()

	t.Run("queued to running persists stage list and dispatch data", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		now := time.Now()
		destructive := true
		stages := []string{"port-scan"}

		mockPool.ExpectExec(`UPDATE jobs SET status = \$2`).
			WithArgs("job-1", "RUNNING", pgxmock.AnyArg(), []byte(`["port-scan"]`), true, "QUEUED").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := s.TransitionJob(ctx, "job-1", schemas.StatusQueued, schemas.StatusRunning, schemas.JobMutation{
			StartedAt:      &now,
			SelectedStages: stages,
			SetStages:      true,
			Destructive:    &destructive,
		})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("wrong source state is rejected distinguishably", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		mockPool.ExpectExec(`UPDATE jobs SET status = \$2`).
			WithArgs("job-1", "RUNNING", "QUEUED").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectQuery(`SELECT status FROM jobs`).
			WithArgs("job-1").
			WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("RUNNING"))

		err := s.TransitionJob(ctx, "job-1", schemas.StatusQueued, schemas.StatusRunning, schemas.JobMutation{})
		require.ErrorIs(t, err, schemas.ErrInvalidTransition)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("unknown job surfaces not found", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		mockPool.ExpectExec(`UPDATE jobs SET status = \$2`).
			WithArgs("nope", "CANCELLED", "RUNNING").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectQuery(`SELECT status FROM jobs`).
			WithArgs("nope").
			WillReturnError(pgx.ErrNoRows)

		err := s.TransitionJob(ctx, "nope", schemas.StatusRunning, schemas.StatusCancelled, schemas.JobMutation{})
		require.ErrorIs(t, err, schemas.ErrJobNotFound)
	})
}

func TestGetJobStatus(t *testing.T) {
	s, mockPool := newTestStore(t)

	mockPool.ExpectQuery(`SELECT status FROM jobs`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("CANCELLED"))

	status, err := s.GetJobStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusCancelled, status)
}

func TestCreateJob(t *testing.T) {
	s, mockPool := newTestStore(t)

	job := &schemas.Job{
		ID:          "job-1",
		Target:      "example.com",
		Status:      schemas.StatusQueued,
		ScanProfile: "balanced",
		Requester:   schemas.Requester{Email: "sec@example.com", Company: "Example"},
		CreatedAt:   time.Now(),
	}

	mockPool.ExpectExec(`INSERT INTO jobs`).
		WithArgs("job-1", "example.com", "QUEUED", "balanced", nil,
			pgxmock.AnyArg(), pgxmock.AnyArg(), nil, "sec@example.com", "Example", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateJob(context.Background(), job))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
