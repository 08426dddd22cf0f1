package indicator

import "optionsBrain/internal/domain"

const (
	profileBins      = 24
	valueAreaPortion = 0.70
)

// calculateProfile builds a volume-by-price histogram over the closed bars
// and derives the point of control plus the 70% value area. Bars are bucketed
// by typical price (H+L+C)/3, weighted by bar volume.
func calculateProfile(bars []*domain.Bar) (domain.VolumeProfile, bool) {
	if len(bars) == 0 {
		return domain.VolumeProfile{}, false
	}

	lo, hi := bars[0].Low, bars[0].High
	var totalVol float64
	for _, b := range bars {
		if b.Low < lo {
			lo = b.Low
		}
		if b.High > hi {
			hi = b.High
		}
		totalVol += float64(b.Volume)
	}
	if totalVol == 0 || hi <= lo {
		return domain.VolumeProfile{}, false
	}

	width := (hi - lo) / profileBins
	buckets := make([]float64, profileBins)
	for _, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		idx := int((typical - lo) / width)
		if idx >= profileBins {
			idx = profileBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		buckets[idx] += float64(b.Volume)
	}

	poc := 0
	for i, v := range buckets {
		if v > buckets[poc] {
			poc = i
		}
	}

	// Expand from the point of control, taking the heavier adjacent bucket
	// each step, until the value area covers the target share of volume.
	lowIdx, highIdx := poc, poc
	covered := buckets[poc]
	for covered < totalVol*valueAreaPortion {
		below, above := -1.0, -1.0
		if lowIdx > 0 {
			below = buckets[lowIdx-1]
		}
		if highIdx < profileBins-1 {
			above = buckets[highIdx+1]
		}
		if below < 0 && above < 0 {
			break
		}
		if above >= below {
			highIdx++
			covered += above
		} else {
			lowIdx--
			covered += below
		}
	}

	center := func(i int) float64 { return lo + width*(float64(i)+0.5) }
	return domain.VolumeProfile{
		PointOfControl: center(poc),
		ValueAreaHigh:  center(highIdx),
		ValueAreaLow:   center(lowIdx),
	}, true
}
