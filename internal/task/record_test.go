package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for _, valid := range []string{"pending", "processing", "parsed", "completed", "failed"} {
		status, err := ParseStatus(valid)
		require.NoError(t, err)
		require.Equal(t, Status(valid), status)
	}

	_, err := ParseStatus("paused")
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestRecord_Resumable(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	rec := NewRecord("123", now)
	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, DefaultMaxRetries, rec.MaxRetries)
	require.True(t, rec.Resumable())

	rec.Status = StatusCompleted
	require.True(t, rec.Terminal())
	require.False(t, rec.Resumable())

	rec.Status = StatusFailed
	rec.RetryCount = 2
	require.False(t, rec.Abandoned())
	require.True(t, rec.Resumable())

	rec.RetryCount = 3
	require.True(t, rec.Abandoned())
	require.False(t, rec.Resumable())
}

func TestDecodeRecord_Corrupt(t *testing.T) {
	t.Parallel()

	_, err := decodeRecord("{not json")
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = decodeRecord(`{"movie_id":"1","status":"unknown"}`)
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = decodeRecord(`{"status":"pending"}`)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	rec := NewRecord("42", now)
	rec.Status = StatusFailed
	rec.RetryCount = 1
	rec.ErrorMsg = "timeout"

	raw, err := encodeRecord(rec)
	require.NoError(t, err)

	got, err := decodeRecord(raw)
	require.NoError(t, err)
	require.Equal(t, rec, got)
}
