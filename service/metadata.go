package service

import (
	"fmt"
	"time"

	"helmet-recorder/dto"
)

const (
	MetadataFormatSplit  = "split"
	MetadataFormatLegacy = "legacy"
)

// MetadataShaper turns upload metadata into the remote form fields.
type MetadataShaper interface {
	Fields(meta dto.UploadMetadata) map[string]string
}

type MetadataShaperFunc func(meta dto.UploadMetadata) map[string]string

func (f MetadataShaperFunc) Fields(meta dto.UploadMetadata) map[string]string {
	return f(meta)
}

func NewMetadataShaper(format string) (MetadataShaper, error) {
	switch format {
	case MetadataFormatSplit, "":
		return MetadataShaperFunc(splitFields), nil
	case MetadataFormatLegacy:
		return MetadataShaperFunc(legacyFields), nil
	default:
		return nil, fmt.Errorf("unknown metadata format %q", format)
	}
}

func baseFields(meta dto.UploadMetadata) map[string]string {
	return map[string]string{
		"device_id":  meta.DeviceId,
		"file_type":  string(meta.FileType),
		"start_time": meta.StartTime.Format(time.DateTime),
		"end_time":   meta.EndTime.Format(time.DateTime),
	}
}

// splitFields sends start_location and end_location, each only when known.
func splitFields(meta dto.UploadMetadata) map[string]string {
	fields := baseFields(meta)
	if meta.StartLocation != "" {
		fields["start_location"] = meta.StartLocation
	}
	if meta.EndLocation != "" {
		fields["end_location"] = meta.EndLocation
	}
	return fields
}

// legacyFields is the older backend contract: stop_location instead of
// end_location and the whole GPS log as a string in location.
func legacyFields(meta dto.UploadMetadata) map[string]string {
	fields := baseFields(meta)
	if meta.StartLocation != "" {
		fields["start_location"] = meta.StartLocation
	}
	if meta.EndLocation != "" {
		fields["stop_location"] = meta.EndLocation
	}
	fields["location"] = meta.GpsJSON
	return fields
}
