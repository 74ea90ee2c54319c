// Package layout names the files of the recording directory. Every name is
// <prefix><YYYYMMDD_HHMMSS>[_chunkNNN].<ext>; the prefix mirrors the artifact
// state and the timestamp is the session join key.
package layout

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"helmet-recorder/constant"
)

const TimestampLayout = "20060102_150405"

const (
	PrefixRaw               = "temp_"
	PrefixAudio             = "audio_"
	PrefixGps               = "gps_"
	PrefixVideo             = "video_"
	PrefixImage             = "img_"
	PrefixUploaded          = "uploaded_"
	PrefixUploadedGps       = "uploaded_gps_"
	PrefixUploadedImage     = "uploaded_img_"
	PrefixFailedUpload      = "failed_upload_"
	PrefixFailedUploadGps   = "failed_upload_gps_"
	PrefixFailedUploadImage = "failed_upload_img_"
	PrefixIncomplete        = "incomplete_"
	PrefixIncompleteGps     = "incomplete_gps_"
	PrefixIncompleteAudio   = "incomplete_audio_"
)

const (
	ExtRawVideo    = "h264"
	ExtRawAudio    = "wav"
	ExtDeliverable = "mp4"
	ExtGpsLog      = "json"
	ExtImage       = "jpg"
)

const noChunk = -1

// longest first, failed_upload_gps_ must win over failed_upload_
var prefixes = []string{
	PrefixFailedUploadImage,
	PrefixFailedUploadGps,
	PrefixIncompleteAudio,
	PrefixIncompleteGps,
	PrefixFailedUpload,
	PrefixUploadedImage,
	PrefixUploadedGps,
	PrefixIncomplete,
	PrefixUploaded,
	PrefixAudio,
	PrefixVideo,
	PrefixRaw,
	PrefixGps,
	PrefixImage,
}

var (
	namePattern      = regexp.MustCompile(`^(\d{8}_\d{6})(?:_chunk(\d{3,}))?\.([A-Za-z0-9]+)$`)
	timestampPattern = regexp.MustCompile(`\d{8}_\d{6}`)
)

type Name struct {
	Prefix string
	Key    string
	Chunk  int
	Ext    string
}

func (n Name) String() string {
	if n.Chunk == noChunk {
		return fmt.Sprintf("%s%s.%s", n.Prefix, n.Key, n.Ext)
	}
	return fmt.Sprintf("%s%s_chunk%03d.%s", n.Prefix, n.Key, n.Chunk, n.Ext)
}

func (n Name) HasChunk() bool {
	return n.Chunk != noChunk
}

func (n Name) WithPrefix(prefix string) Name {
	n.Prefix = prefix
	return n
}

func (n Name) WithExt(ext string) Name {
	n.Ext = ext
	return n
}

// Parse splits a base name into its parts. It fails for names that do not
// follow the layout, which keeps foreign files out of the pipeline.
func Parse(name string) (Name, error) {
	for _, p := range prefixes {
		if len(name) <= len(p) || name[:len(p)] != p {
			continue
		}
		m := namePattern.FindStringSubmatch(name[len(p):])
		if m == nil {
			continue
		}
		n := Name{Prefix: p, Key: m[1], Chunk: noChunk, Ext: m[3]}
		if m[2] != "" {
			chunk, err := strconv.Atoi(m[2])
			if err != nil {
				return Name{}, fmt.Errorf("invalid chunk in %q: %w", name, err)
			}
			n.Chunk = chunk
		}
		return n, nil
	}
	return Name{}, fmt.Errorf("unrecognised artifact name %q", name)
}

func SessionKey(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ExtractTimestamp returns the first embedded session key, or "".
func ExtractTimestamp(name string) string {
	return timestampPattern.FindString(name)
}

func ParseTimestamp(key string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, key, time.Local)
}

func RawVideo(key string, chunk int) Name {
	return Name{Prefix: PrefixRaw, Key: key, Chunk: chunk, Ext: ExtRawVideo}
}

func RawAudio(key string, chunk int) Name {
	return Name{Prefix: PrefixAudio, Key: key, Chunk: chunk, Ext: ExtRawAudio}
}

func GpsLog(key string, chunk int) Name {
	return Name{Prefix: PrefixGps, Key: key, Chunk: chunk, Ext: ExtGpsLog}
}

func Deliverable(key string, chunk int) Name {
	return Name{Prefix: PrefixVideo, Key: key, Chunk: chunk, Ext: ExtDeliverable}
}

func Photo(key string) Name {
	return Name{Prefix: PrefixImage, Key: key, Chunk: noChunk, Ext: ExtImage}
}

// PrimaryPrefix is the prefix the main file of an artifact carries in state.
func PrimaryPrefix(kind constant.ArtifactKind, state constant.ArtifactState) string {
	if kind == constant.ArtifactKindImage {
		switch state {
		case constant.ArtifactStateUploaded:
			return PrefixUploadedImage
		case constant.ArtifactStateUploadFailed:
			return PrefixFailedUploadImage
		default:
			return PrefixImage
		}
	}
	switch state {
	case constant.ArtifactStateCapturing, constant.ArtifactStateConverting, constant.ArtifactStateConversionFailed:
		return PrefixRaw
	case constant.ArtifactStateUploaded:
		return PrefixUploaded
	case constant.ArtifactStateUploadFailed:
		return PrefixFailedUpload
	case constant.ArtifactStateIncomplete:
		return PrefixIncomplete
	default:
		return PrefixVideo
	}
}

func GpsPrefix(state constant.ArtifactState) string {
	switch state {
	case constant.ArtifactStateUploaded:
		return PrefixUploadedGps
	case constant.ArtifactStateUploadFailed:
		return PrefixFailedUploadGps
	case constant.ArtifactStateIncomplete:
		return PrefixIncompleteGps
	default:
		return PrefixGps
	}
}

func AudioPrefix(state constant.ArtifactState) string {
	if state == constant.ArtifactStateIncomplete {
		return PrefixIncompleteAudio
	}
	return PrefixAudio
}

// Siblings lists every name that differs from name only in its prefix, in
// longest-prefix-first order. A crash between two renames can leave a file
// under any of them.
func Siblings(name string) ([]string, error) {
	n, err := Parse(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p == n.Prefix {
			continue
		}
		out = append(out, n.WithPrefix(p).String())
	}
	return out, nil
}

// Rename swaps the prefix of name, keeping key, chunk and extension verbatim.
func Rename(name string, prefix string) (string, error) {
	n, err := Parse(name)
	if err != nil {
		return "", err
	}
	return n.WithPrefix(prefix).String(), nil
}
