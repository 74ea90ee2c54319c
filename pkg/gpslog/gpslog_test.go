package gpslog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmet-recorder/entities"
)

func TestWriteThenSummarize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gps_20240101_120000_chunk000.json")
	points := []entities.GpsSample{
		{Timestamp: "2024-01-01 12:00:01.000000", Lat: 0, Lon: 0},
		{Timestamp: "2024-01-01 12:00:05.000000", Lat: 12.5, Lon: 77.25},
		{Timestamp: "", Lat: 13, Lon: 78},
		{Timestamp: "2024-01-01 12:00:15.500000", Lat: 12.75, Lon: 77.5},
		{Timestamp: "2024-01-01 12:00:20.000000", Lat: 0, Lon: 0},
	}
	require.NoError(t, Write(path, points))

	s, err := Summarize(path)
	require.NoError(t, err)
	assert.Equal(t, "12.5,77.25", s.StartLocation)
	assert.Equal(t, "12.75,77.5", s.EndLocation)
	require.NotNil(t, s.StartTime)
	require.NotNil(t, s.EndTime)
	assert.Equal(t, 5, s.StartTime.Second())
	assert.Equal(t, 15, s.EndTime.Second())
	assert.Contains(t, string(s.Raw), `"points"`)

	again, err := Summarize(path)
	require.NoError(t, err)
	assert.Equal(t, s.StartLocation, again.StartLocation)
	assert.Equal(t, s.EndLocation, again.EndLocation)
}

func TestSummarizeAllInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gps.json")
	require.NoError(t, Write(path, []entities.GpsSample{
		{Timestamp: "2024-01-01 12:00:01.000000"},
		{Timestamp: "2024-01-01 12:00:06.000000"},
	}))

	s, err := Summarize(path)
	require.NoError(t, err)
	assert.False(t, s.HasLocation())
	assert.Empty(t, s.EndLocation)
	assert.Nil(t, s.StartTime)
}

func TestSummarizeMissingFile(t *testing.T) {
	s, err := Summarize(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.False(t, s.HasLocation())
	assert.Nil(t, s.Raw)
}

func TestWriteEmptyLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gps.json")
	require.NoError(t, Write(path, nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"points":[]}`, string(raw))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSampleFormatsTimestamp(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 1, 250000000, time.Local)
	s := Sample(at, entities.GpsFix{Lat: 1, Lon: 2, Accuracy: 3, Speed: 4})
	assert.Equal(t, "2024-01-01 12:00:01.250000", s.Timestamp)

	parsed, err := ParseTimestamp(s.Timestamp)
	require.NoError(t, err)
	assert.True(t, at.Equal(parsed))
}

func TestReadKeepsCompleteSamplesOfTruncatedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gps.json")
	require.NoError(t, Write(path, []entities.GpsSample{
		{Timestamp: "2024-01-01 12:00:05.000000", Lat: 12.5, Lon: 77.25},
		{Timestamp: "2024-01-01 12:00:10.000000", Lat: 12.6, Lon: 77.3},
		{Timestamp: "2024-01-01 12:00:15.000000", Lat: 12.7, Lon: 77.4},
	}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// power cut inside the last sample
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-10], 0o644))

	points, got, err := Read(path)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 12.6, points[1].Lat)
	assert.Equal(t, raw[:len(raw)-10], got)

	s, err := Summarize(path)
	require.NoError(t, err)
	assert.Equal(t, "12.5,77.25", s.StartLocation)
	assert.Equal(t, "12.6,77.3", s.EndLocation)
}

func TestReadRejectsForeignDocuments(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"garbage.json": "not json at all",
		"array.json":   `[{"lat":1}]`,
		"other.json":   `{"tracks":[`,
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, _, err := Read(path)
		assert.Error(t, err, name)
	}

	path := filepath.Join(dir, "cut.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"points":[`), 0o644))
	points, _, err := Read(path)
	require.NoError(t, err)
	assert.Empty(t, points)
}
