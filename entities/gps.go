package entities

type GpsFix struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Accuracy float64 `json:"accuracy"`
	Speed    float64 `json:"speed"`
}

type GpsSample struct {
	Timestamp string  `json:"timestamp"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Accuracy  float64 `json:"accuracy"`
	Speed     float64 `json:"speed"`
}

// Valid reports whether the sample carries a real fix. Unacquired fixes are
// still logged, they are only skipped when summarising.
func (s GpsSample) Valid() bool {
	if s.Timestamp == "" {
		return false
	}
	return s.Lat != 0 || s.Lon != 0
}
