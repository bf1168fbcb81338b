package postgres

import (
	"context"
	"flag"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/shrimpsizemoose/lussekatt/internal/grading"
	"github.com/shrimpsizemoose/lussekatt/internal/models"
	"github.com/shrimpsizemoose/lussekatt/internal/store"
)

var testCategory = models.CategoryKey{CourseID: "cs101", ItemID: "essay-01"}

// setupTestDB spins up a throwaway Postgres and applies migrations
func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	ctx := context.Background()

	container, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_DB":       "testdb",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := NewPostgresStore(dsn, "../../../migrations")
	require.NoError(t, err, "Failed to create store")

	cleanup := func() {
		s.Close()
		container.Terminate(ctx)
	}

	return s, cleanup
}

type testData struct {
	store *PostgresStore
	queue *grading.Queue
	now   time.Time
}

func setupTestData(t *testing.T) (*testData, func()) {
	s, cleanup := setupTestDB(t)
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	return &testData{
		store: s,
		queue: grading.NewQueue(s, 0),
		now:   now,
	}, cleanup
}

func (td *testData) seed(t *testing.T, uuid string, createdAt time.Time) {
	t.Helper()
	err := td.store.CreateWorkflow(&models.StaffWorkflow{
		SubmissionUUID: uuid,
		CourseID:       testCategory.CourseID,
		ItemID:         testCategory.ItemID,
		CreatedAt:      createdAt.Unix(),
	})
	require.NoError(t, err, "Failed to seed workflow %s", uuid)
}

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		log.Println("Skipping Postgres integration tests. Use -short=false to run them.")
		os.Exit(0)
	}
	log.Println("Starting Postgres store tests...")
	code := m.Run()
	log.Println("Finished Postgres store tests")
	os.Exit(code)
}

func TestCreateWorkflowUniqueness(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	td.seed(t, "sub-1", td.now)

	err := td.store.CreateWorkflow(&models.StaffWorkflow{
		SubmissionUUID: "sub-1",
		CourseID:       testCategory.CourseID,
		ItemID:         testCategory.ItemID,
		CreatedAt:      td.now.Unix(),
	})
	assert.ErrorIs(t, err, store.ErrDuplicateSubmission)
}

// N scorers race for the single remaining submission; exactly one
// claim must land, everyone else walks away empty-handed.
func TestConcurrentClaimMutualExclusion(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	td.seed(t, "sub-contested", td.now.Add(-time.Hour))

	const scorers = 8

	var wg sync.WaitGroup
	winners := make(chan string, scorers)
	for i := 0; i < scorers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			scorer := string(rune('a' + n))
			w, err := td.queue.ClaimNext(testCategory, "staff_"+scorer, td.now)
			assert.NoError(t, err)
			if w != nil {
				winners <- w.ScorerID
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	var claimedBy []string
	for scorer := range winners {
		claimedBy = append(claimedBy, scorer)
	}
	require.Len(t, claimedBy, 1, "Exactly one scorer must win the race")

	got, err := td.store.GetWorkflow("sub-contested")
	require.NoError(t, err)
	assert.Equal(t, claimedBy[0], got.ScorerID)
}

// With enough submissions for everyone, concurrent claimers fall
// through lost races and each ends up with a distinct submission.
func TestConcurrentClaimsGetDistinctSubmissions(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	uuids := []string{"sub-1", "sub-2", "sub-3", "sub-4"}
	for i, uuid := range uuids {
		td.seed(t, uuid, td.now.Add(time.Duration(-10+i)*time.Hour))
	}

	var wg sync.WaitGroup
	claims := make(chan string, len(uuids))
	for i := range uuids {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			scorer := string(rune('a' + n))
			w, err := td.queue.ClaimNext(testCategory, "staff_"+scorer, td.now)
			assert.NoError(t, err)
			if assert.NotNil(t, w, "Every scorer should get a submission") {
				claims <- w.SubmissionUUID
			}
		}(i)
	}
	wg.Wait()
	close(claims)

	seen := map[string]bool{}
	for uuid := range claims {
		assert.False(t, seen[uuid], "Submission %s leased twice", uuid)
		seen[uuid] = true
	}
	assert.Len(t, seen, len(uuids))
}

func TestStatisticsPartition(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	td.seed(t, "sub-fresh", td.now.Add(-6*time.Hour))
	td.seed(t, "sub-leased", td.now.Add(-5*time.Hour))
	td.seed(t, "sub-stale", td.now.Add(-4*time.Hour))
	td.seed(t, "sub-graded", td.now.Add(-3*time.Hour))
	td.seed(t, "sub-cancelled", td.now.Add(-2*time.Hour))
	td.seed(t, "sub-returned", td.now.Add(-1*time.Hour))

	cutoff := td.now.Add(-8 * time.Hour).Unix()
	require.NoError(t, td.store.AcquireLease("sub-leased", "staff_1", td.now.Add(-time.Hour).Unix(), cutoff))
	require.NoError(t, td.store.AcquireLease("sub-stale", "staff_2", td.now.Add(-9*time.Hour).Unix(), cutoff))
	require.NoError(t, td.store.CompleteGrading("sub-graded", "staff_3", "assessment-1", td.now.Unix()))
	require.NoError(t, td.store.CancelWorkflow("sub-cancelled", td.now.Unix()))
	require.NoError(t, td.store.ReturnWorkflow("sub-returned", td.now.Unix()))

	counts, err := td.queue.Counts(testCategory, td.now)
	require.NoError(t, err)

	// fresh + stale-leased are ungraded; cancelled/returned out of all buckets
	assert.Equal(t, int64(2), counts.Ungraded)
	assert.Equal(t, int64(1), counts.InProgress)
	assert.Equal(t, int64(1), counts.Graded)
	assert.Equal(t, int64(4), counts.Ungraded+counts.InProgress+counts.Graded)
}

func TestTerminalConflictsSurvivePostgres(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	td.seed(t, "sub-1", td.now.Add(-time.Hour))

	require.NoError(t, td.store.ReturnWorkflow("sub-1", td.now.Unix()))
	require.NoError(t, td.store.ReturnWorkflow("sub-1", td.now.Add(time.Hour).Unix()))

	assert.ErrorIs(t, td.store.CancelWorkflow("sub-1", td.now.Unix()), store.ErrStateConflict)
	assert.ErrorIs(t, td.store.CompleteGrading("sub-1", "staff_1", "a", td.now.Unix()), store.ErrStateConflict)

	got, err := td.store.GetWorkflow("sub-1")
	require.NoError(t, err)
	require.NotNil(t, got.ReturnedAt)
	assert.Equal(t, td.now.Unix(), *got.ReturnedAt)
	assert.Nil(t, got.CancelledAt)
	assert.Nil(t, got.GradingCompletedAt)
}
