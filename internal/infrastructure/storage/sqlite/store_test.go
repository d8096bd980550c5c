package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"roadwatch/internal/core/domain"
)

func openStore(t *testing.T) (*ReportStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roadwatch.db")
	store, err := Open(path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func ptr(v float64) *float64 { return &v }

func result(frame uint64, vehicles ...domain.VehicleDetection) domain.FrameResult {
	ts := time.Date(2024, 5, 1, 8, 0, 0, int(frame)*int(time.Millisecond), time.UTC)
	return domain.NewFrameResult("run_a", frame, ts, 12500*time.Microsecond, vehicles)
}

func TestReportStore_RoundTrip(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	tracked := domain.VehicleDetection{
		TrackID:    9,
		Class:      "truck",
		Confidence: 0.77,
		Box:        domain.BoundingBox{X: 50, Y: 60, Width: 80, Height: 40},
		Kinematics: domain.KinematicEstimate{
			SpeedKPH:    ptr(42.5),
			Heading:     ptr(0),
			Direction:   domain.DirectionRight,
			Reliability: 0.7,
			Samples:     6,
		},
	}
	fresh := domain.VehicleDetection{
		TrackID:    10,
		Class:      "car",
		Confidence: 0.6,
		Kinematics: domain.KinematicEstimate{Direction: domain.DirectionUnknown, Samples: 1},
	}

	first := result(1, tracked, fresh)
	first.FrameSaved = true
	require.NoError(t, store.SaveReport(ctx, first))

	failed := result(2)
	failed.DetectionError = "detector returned 503"
	require.NoError(t, store.SaveReport(ctx, failed))

	got, err := store.Recent(ctx, "run_a", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, uint64(2), got[0].FrameNumber)
	assert.Equal(t, "detector returned 503", got[0].DetectionError)
	assert.Empty(t, got[0].Vehicles)

	if diff := cmp.Diff(first, got[1]); diff != "" {
		t.Errorf("stored result mismatch (-want +got):\n%s", diff)
	}
}

func TestReportStore_ReplaceSameFrame(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveReport(ctx, result(5, domain.VehicleDetection{TrackID: 1, Class: "car", Kinematics: domain.KinematicEstimate{Direction: domain.DirectionUnknown}})))
	require.NoError(t, store.SaveReport(ctx, result(5)))

	got, err := store.Recent(ctx, "run_a", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Zero(t, got[0].VehicleCount)
}

func TestReportStore_LimitAndRunScope(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, store.SaveReport(ctx, result(i)))
	}
	other := result(1)
	other.RunID = "run_b"
	require.NoError(t, store.SaveReport(ctx, other))

	got, err := store.Recent(ctx, "run_a", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(5), got[0].FrameNumber)
	assert.Equal(t, uint64(4), got[1].FrameNumber)

	got, err = store.Recent(ctx, "run_b", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReportStore_ReopenKeepsSchema(t *testing.T) {
	store, path := openStore(t)
	require.NoError(t, store.SaveReport(context.Background(), result(1)))
	require.NoError(t, store.Close())

	reopened, err := Open(path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Recent(context.Background(), "run_a", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
