package raster

// SampleDimension carries per-band metadata.
type SampleDimension struct {
	Name   string
	NoData *float64
}

// NoData is a helper returning a pointer to v.
func NoData(v float64) *float64 {
	return &v
}

// FillValues returns one fill value per band. A non-empty override wins; otherwise
// each band's no-data value is used, defaulting to 0.
func FillValues(dims []SampleDimension, bands int, override []float64) []float64 {
	fill := make([]float64, bands)
	if len(override) > 0 {
		for b := range fill {
			fill[b] = override[min(b, len(override)-1)]
		}
		return fill
	}
	for b := range min(bands, len(dims)) {
		if dims[b].NoData != nil {
			fill[b] = *dims[b].NoData
		}
	}
	return fill
}
