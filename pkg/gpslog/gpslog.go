// Package gpslog reads and writes the per-segment GPS companion file.
package gpslog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"helmet-recorder/entities"
)

// TimestampLayout is the sample timestamp format, microsecond precision.
const TimestampLayout = "2006-01-02 15:04:05.000000"

type document struct {
	Points []entities.GpsSample `json:"points"`
}

// Summary is what an upload needs from a log. Locations are "lat,lon" and
// empty when the log holds no valid sample.
type Summary struct {
	StartLocation string
	EndLocation   string
	StartTime     *time.Time
	EndTime       *time.Time
	Raw           []byte
}

func (s Summary) HasLocation() bool {
	return s.StartLocation != ""
}

// Write replaces the log at path with points. The file is written beside the
// target and renamed over it, so a reader never sees a torn document.
func Write(path string, points []entities.GpsSample) error {
	if points == nil {
		points = []entities.GpsSample{}
	}
	body, err := json.Marshal(document{Points: points})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".gps-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Read returns every logged sample, valid or not, plus the raw bytes. A log
// cut off mid-write yields the samples that were complete; a file that is not
// a gps log at all is an error.
func Read(path string) ([]entities.GpsSample, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		points, ok := salvage(raw)
		if !ok {
			return nil, raw, fmt.Errorf("decode gps log %s: %w", filepath.Base(path), err)
		}
		return points, raw, nil
	}
	return doc.Points, raw, nil
}

// salvage streams the points array and stops at the first broken element.
// ok is false unless the document opens as {"points":[ ...
func salvage(raw []byte) ([]entities.GpsSample, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, false
	}
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return nil, false
		}
		if key != "points" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, false
			}
			continue
		}
		if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
			return nil, false
		}
		points := []entities.GpsSample{}
		for dec.More() {
			var p entities.GpsSample
			if err := dec.Decode(&p); err != nil {
				break
			}
			points = append(points, p)
		}
		return points, true
	}
	return nil, false
}

// Valid filters out unacquired fixes.
func Valid(points []entities.GpsSample) []entities.GpsSample {
	out := make([]entities.GpsSample, 0, len(points))
	for _, p := range points {
		if p.Valid() {
			out = append(out, p)
		}
	}
	return out
}

// Summarize loads path and reduces it to first/last valid sample. A missing
// file is not an error: the summary is simply empty.
func Summarize(path string) (Summary, error) {
	points, raw, err := Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return Summary{}, nil
	}
	if err != nil {
		return Summary{Raw: raw}, err
	}
	return summarize(points, raw), nil
}

func summarize(points []entities.GpsSample, raw []byte) Summary {
	s := Summary{Raw: raw}
	valid := Valid(points)
	if len(valid) == 0 {
		return s
	}
	first, last := valid[0], valid[len(valid)-1]
	s.StartLocation = Location(first)
	s.EndLocation = Location(last)
	if t, err := ParseTimestamp(first.Timestamp); err == nil {
		s.StartTime = &t
	}
	if t, err := ParseTimestamp(last.Timestamp); err == nil {
		s.EndTime = &t
	}
	return s
}

func Location(p entities.GpsSample) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
}

func Sample(at time.Time, fix entities.GpsFix) entities.GpsSample {
	return entities.GpsSample{
		Timestamp: at.Format(TimestampLayout),
		Lat:       fix.Lat,
		Lon:       fix.Lon,
		Accuracy:  fix.Accuracy,
		Speed:     fix.Speed,
	}
}

// ParseTimestamp accepts the log layout and falls back to second precision.
func ParseTimestamp(v string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, v, time.Local)
	if err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateTime, v, time.Local)
}
