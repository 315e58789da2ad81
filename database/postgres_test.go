package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-prefetch/models"
)

func sampleOutcomes(start time.Time) []models.PrefetchRecord {
	return []models.PrefetchRecord{
		{URL: "/s2.jpg", Type: models.ResourceImage, Priority: models.PriorityHigh, Reason: models.ReasonNextSlide,
			State: models.StateFailed, Attempts: 1, StartedAt: start, CompletedAt: start.Add(10 * time.Second), TimedOut: true, Err: "prefetch soft timeout"},
		{URL: "/s2.jpg", Type: models.ResourceImage, Priority: models.PriorityHigh, Reason: models.ReasonNextSlide,
			State: models.StateDone, Attempts: 2, Retried: true, StartedAt: start.Add(11 * time.Second), CompletedAt: start.Add(11*time.Second + 400*time.Millisecond)},
		{URL: "/a", Type: models.ResourceDocument, Priority: models.PriorityMedium, Reason: models.ReasonNavigation,
			State: models.StateDone, Attempts: 1, StartedAt: start, CompletedAt: start.Add(200 * time.Millisecond)},
	}
}

func TestSummarize(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	stats := Summarize(sampleOutcomes(start))

	assert.Equal(t, 3, stats.Issued)
	assert.Equal(t, 2, stats.Done)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Retried)
	assert.Equal(t, 1, stats.TimedOut)
	assert.Equal(t, 300*time.Millisecond, stats.AvgLoadTime)
	assert.Equal(t, 11*time.Second+400*time.Millisecond, stats.Duration)
	assert.Equal(t, 2, stats.ByReason[models.ReasonNextSlide])
	assert.Equal(t, 1, stats.ByPriority[models.PriorityMedium])
}

func TestSummarizeEmpty(t *testing.T) {
	stats := Summarize(nil)
	assert.Zero(t, stats.Issued)
	assert.Zero(t, stats.AvgLoadTime)
	assert.Zero(t, stats.Duration)
	assert.NotNil(t, stats.ByReason)
}

func TestPostgresOutcomeLog(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := NewPostgresDB(dsn)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Millisecond)
	session := Session{ID: uuid.New(), PageURL: "http://localhost/park", Tier: models.MidRange, Connection: models.Fast, StartedAt: start}
	require.NoError(t, db.StartSession(ctx, session))

	recs := sampleOutcomes(start)
	require.NoError(t, db.SaveOutcomes(ctx, session.ID, nil))
	require.NoError(t, db.SaveOutcomes(ctx, session.ID, recs[:1]))
	require.NoError(t, db.SaveOutcomes(ctx, session.ID, recs[1:]))

	got, err := db.Outcomes(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "/s2.jpg", got[0].URL)
	assert.True(t, got[0].TimedOut)
	assert.True(t, got[1].Retried)
	assert.Equal(t, models.PriorityMedium, got[2].Priority)

	stats, err := db.SessionSummary(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Done)
	assert.Equal(t, 1, stats.Failed)
}
