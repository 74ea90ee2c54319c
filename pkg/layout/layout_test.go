package layout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmet-recorder/constant"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name   string
		prefix string
		key    string
		chunk  int
		ext    string
	}{
		{"temp_20240101_120000_chunk000.h264", PrefixRaw, "20240101_120000", 0, "h264"},
		{"video_20240101_120000_chunk012.mp4", PrefixVideo, "20240101_120000", 12, "mp4"},
		{"gps_20240101_120000_chunk001.json", PrefixGps, "20240101_120000", 1, "json"},
		{"failed_upload_gps_20240101_120000_chunk001.json", PrefixFailedUploadGps, "20240101_120000", 1, "json"},
		{"failed_upload_20240101_120000_chunk001.mp4", PrefixFailedUpload, "20240101_120000", 1, "mp4"},
		{"uploaded_gps_20240101_120000_chunk003.json", PrefixUploadedGps, "20240101_120000", 3, "json"},
		{"incomplete_audio_20240101_120000_chunk003.wav", PrefixIncompleteAudio, "20240101_120000", 3, "wav"},
		{"img_20240101_120000.jpg", PrefixImage, "20240101_120000", noChunk, "jpg"},
		{"uploaded_img_20240101_120000.jpg", PrefixUploadedImage, "20240101_120000", noChunk, "jpg"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := Parse(tc.name)
			require.NoError(t, err)
			assert.Equal(t, tc.prefix, n.Prefix)
			assert.Equal(t, tc.key, n.Key)
			assert.Equal(t, tc.chunk, n.Chunk)
			assert.Equal(t, tc.ext, n.Ext)
			assert.Equal(t, tc.name, n.String())
		})
	}
}

func TestParseRejectsForeignNames(t *testing.T) {
	for _, name := range []string{"", "notes.txt", "video_.mp4", "temp_2024_chunk000.h264", "video_20240101_120000_chunk000"} {
		_, err := Parse(name)
		assert.Error(t, err, name)
	}
}

func TestRenameKeepsJoinKey(t *testing.T) {
	out, err := Rename("video_20240101_120000_chunk004.mp4", PrefixFailedUpload)
	require.NoError(t, err)
	assert.Equal(t, "failed_upload_20240101_120000_chunk004.mp4", out)

	back, err := Rename(out, PrefixUploaded)
	require.NoError(t, err)
	assert.Equal(t, "uploaded_20240101_120000_chunk004.mp4", back)
	assert.Equal(t, "20240101_120000", ExtractTimestamp(back))
}

func TestPrefixesByState(t *testing.T) {
	assert.Equal(t, PrefixRaw, PrimaryPrefix(constant.ArtifactKindVideo, constant.ArtifactStateConverting))
	assert.Equal(t, PrefixVideo, PrimaryPrefix(constant.ArtifactKindVideo, constant.ArtifactStateUploading))
	assert.Equal(t, PrefixFailedUpload, PrimaryPrefix(constant.ArtifactKindVideo, constant.ArtifactStateUploadFailed))
	assert.Equal(t, PrefixIncomplete, PrimaryPrefix(constant.ArtifactKindVideo, constant.ArtifactStateIncomplete))
	assert.Equal(t, PrefixUploadedImage, PrimaryPrefix(constant.ArtifactKindImage, constant.ArtifactStateUploaded))
	assert.Equal(t, PrefixImage, PrimaryPrefix(constant.ArtifactKindImage, constant.ArtifactStatePendingUpload))

	assert.Equal(t, PrefixGps, GpsPrefix(constant.ArtifactStatePendingUpload))
	assert.Equal(t, PrefixUploadedGps, GpsPrefix(constant.ArtifactStateUploaded))
	assert.Equal(t, PrefixIncompleteGps, GpsPrefix(constant.ArtifactStateIncomplete))
	assert.Equal(t, PrefixIncompleteAudio, AudioPrefix(constant.ArtifactStateIncomplete))
}

func TestSessionKeyRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 9, 7, 5, 1, 0, time.Local)
	key := SessionKey(at)
	assert.Equal(t, "20240309_070501", key)

	parsed, err := ParseTimestamp(key)
	require.NoError(t, err)
	assert.True(t, at.Equal(parsed))

	assert.Equal(t, "temp_20240309_070501_chunk000.h264", RawVideo(key, 0).String())
	assert.Equal(t, "audio_20240309_070501_chunk000.wav", RawAudio(key, 0).String())
	assert.Equal(t, "video_20240309_070501_chunk000.mp4", Deliverable(key, 0).String())
	assert.Equal(t, "img_20240309_070501.jpg", Photo(key).String())
}

func TestSiblings(t *testing.T) {
	got, err := Siblings("video_20240101_120000_chunk000.mp4")
	require.NoError(t, err)
	assert.Contains(t, got, "uploaded_20240101_120000_chunk000.mp4")
	assert.Contains(t, got, "failed_upload_20240101_120000_chunk000.mp4")
	assert.NotContains(t, got, "video_20240101_120000_chunk000.mp4")

	_, err = Siblings("index.db")
	assert.Error(t, err)
}
