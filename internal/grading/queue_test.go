package grading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/lussekatt/internal/models"
	"github.com/shrimpsizemoose/lussekatt/internal/store"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) ApplyMigrations(dir string) error {
	return nil
}

func (m *MockStore) CreateWorkflow(w *models.StaffWorkflow) error {
	args := m.Called(w)
	return args.Error(0)
}

func (m *MockStore) GetWorkflow(submissionUUID string) (*models.StaffWorkflow, error) {
	args := m.Called(submissionUUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StaffWorkflow), args.Error(1)
}

func (m *MockStore) FindClaimable(category models.CategoryKey, cutoff int64) ([]models.StaffWorkflow, error) {
	args := m.Called(category, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.StaffWorkflow), args.Error(1)
}

func (m *MockStore) AcquireLease(submissionUUID, scorerID string, now, cutoff int64) error {
	args := m.Called(submissionUUID, scorerID, now, cutoff)
	return args.Error(0)
}

func (m *MockStore) CompleteGrading(submissionUUID, scorerID, assessment string, now int64) error {
	args := m.Called(submissionUUID, scorerID, assessment, now)
	return args.Error(0)
}

func (m *MockStore) CancelWorkflow(submissionUUID string, now int64) error {
	args := m.Called(submissionUUID, now)
	return args.Error(0)
}

func (m *MockStore) ReturnWorkflow(submissionUUID string, now int64) error {
	args := m.Called(submissionUUID, now)
	return args.Error(0)
}

func (m *MockStore) CountStatuses(category models.CategoryKey, cutoff int64) (*models.StatusCounts, error) {
	args := m.Called(category, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StatusCounts), args.Error(1)
}

func (m *MockStore) ListPending(category models.CategoryKey, cutoff int64) ([]string, error) {
	args := m.Called(category, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func candidate(uuid string, createdAt int64) models.StaffWorkflow {
	return models.StaffWorkflow{
		SubmissionUUID: uuid,
		CourseID:       "cs101",
		ItemID:         "essay-01",
		CreatedAt:      createdAt,
	}
}

func TestQueue_ClaimNext(t *testing.T) {
	category := models.CategoryKey{CourseID: "cs101", ItemID: "essay-01"}
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-8 * time.Hour).Unix()

	t.Run("claims oldest candidate", func(t *testing.T) {
		s := new(MockStore)
		q := NewQueue(s, 0)

		s.On("FindClaimable", category, cutoff).
			Return([]models.StaffWorkflow{
				candidate("sub-1", 100),
				candidate("sub-2", 200),
			}, nil).Once()
		s.On("AcquireLease", "sub-1", "staff_7", now.Unix(), cutoff).
			Return(nil).Once()

		got, err := q.ClaimNext(category, "staff_7", now)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "sub-1", got.SubmissionUUID)
		assert.Equal(t, "staff_7", got.ScorerID)
		require.NotNil(t, got.GradingStartedAt)
		assert.Equal(t, now.Unix(), *got.GradingStartedAt)

		s.AssertExpectations(t)
	})

	t.Run("lost race falls through to next candidate", func(t *testing.T) {
		s := new(MockStore)
		q := NewQueue(s, 0)

		s.On("FindClaimable", category, cutoff).
			Return([]models.StaffWorkflow{
				candidate("sub-1", 100),
				candidate("sub-2", 200),
			}, nil).Once()
		s.On("AcquireLease", "sub-1", "staff_7", now.Unix(), cutoff).
			Return(store.ErrLeaseConflict).Once()
		s.On("AcquireLease", "sub-2", "staff_7", now.Unix(), cutoff).
			Return(nil).Once()

		got, err := q.ClaimNext(category, "staff_7", now)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "sub-2", got.SubmissionUUID)

		s.AssertExpectations(t)
	})

	t.Run("all candidates raced away yields no item", func(t *testing.T) {
		s := new(MockStore)
		q := NewQueue(s, 0)

		s.On("FindClaimable", category, cutoff).
			Return([]models.StaffWorkflow{candidate("sub-1", 100)}, nil).Once()
		s.On("AcquireLease", "sub-1", "staff_7", now.Unix(), cutoff).
			Return(store.ErrLeaseConflict).Once()

		got, err := q.ClaimNext(category, "staff_7", now)
		require.NoError(t, err)
		assert.Nil(t, got)

		s.AssertExpectations(t)
	})

	t.Run("empty category yields no item", func(t *testing.T) {
		s := new(MockStore)
		q := NewQueue(s, 0)

		s.On("FindClaimable", category, cutoff).
			Return([]models.StaffWorkflow{}, nil).Once()

		got, err := q.ClaimNext(category, "staff_7", now)
		require.NoError(t, err)
		assert.Nil(t, got)

		s.AssertExpectations(t)
	})

	t.Run("invalid category is rejected before hitting store", func(t *testing.T) {
		s := new(MockStore)
		q := NewQueue(s, 0)

		_, err := q.ClaimNext(models.CategoryKey{}, "staff_7", now)
		assert.Error(t, err)

		s.AssertNotCalled(t, "FindClaimable", mock.Anything, mock.Anything)
	})
}

func TestQueue_LeaseDurationDefault(t *testing.T) {
	q := NewQueue(new(MockStore), 0)
	assert.Equal(t, 8*time.Hour, q.LeaseDuration())

	q = NewQueue(new(MockStore), 30*time.Minute)
	assert.Equal(t, 30*time.Minute, q.LeaseDuration())
}

func TestQueue_CustomLeaseDurationCutoff(t *testing.T) {
	category := models.CategoryKey{CourseID: "cs101", ItemID: "essay-01"}
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	s := new(MockStore)
	q := NewQueue(s, 30*time.Minute)

	wantCutoff := now.Add(-30 * time.Minute).Unix()
	s.On("CountStatuses", category, wantCutoff).
		Return(&models.StatusCounts{Ungraded: 1}, nil).Once()

	counts, err := q.Counts(category, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Ungraded)

	s.AssertExpectations(t)
}

func TestQueue_Finalizers(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	t.Run("complete passes through", func(t *testing.T) {
		s := new(MockStore)
		q := NewQueue(s, 0)

		s.On("CompleteGrading", "sub-1", "staff_7", "assessment-42", now.Unix()).
			Return(nil).Once()

		require.NoError(t, q.Complete("sub-1", "staff_7", "assessment-42", now))
		s.AssertExpectations(t)
	})

	t.Run("state conflict surfaces to caller", func(t *testing.T) {
		s := new(MockStore)
		q := NewQueue(s, 0)

		s.On("CancelWorkflow", "sub-1", now.Unix()).
			Return(store.ErrStateConflict).Once()

		err := q.Cancel("sub-1", now)
		assert.ErrorIs(t, err, store.ErrStateConflict)
		s.AssertExpectations(t)
	})
}

func TestQueue_Enqueue(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	t.Run("defaults created_at to now", func(t *testing.T) {
		s := new(MockStore)
		q := NewQueue(s, 0)

		w := &models.StaffWorkflow{
			SubmissionUUID: "sub-1",
			CourseID:       "cs101",
			ItemID:         "essay-01",
		}
		s.On("CreateWorkflow", w).Return(nil).Once()

		require.NoError(t, q.Enqueue(w, now))
		assert.Equal(t, now.Unix(), w.CreatedAt)
		s.AssertExpectations(t)
	})

	t.Run("rejects workflow without submission uuid", func(t *testing.T) {
		s := new(MockStore)
		q := NewQueue(s, 0)

		err := q.Enqueue(&models.StaffWorkflow{CourseID: "cs101", ItemID: "essay-01"}, now)
		assert.Error(t, err)
		s.AssertNotCalled(t, "CreateWorkflow", mock.Anything)
	})
}
