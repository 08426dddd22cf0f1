package indicator

import "optionsBrain/internal/domain"

// calculateADX computes the Average Directional Index over the closed bars
// using Wilder smoothing. It needs 2*period+1 bars to produce a first value;
// below that it reports ok=false.
func calculateADX(bars []*domain.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < 2*period+1 {
		return 0, false
	}

	n := len(bars)
	trs := make([]float64, 0, n-1)
	plusDMs := make([]float64, 0, n-1)
	minusDMs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		cur, prev := bars[i], bars[i-1]

		tr := cur.High - cur.Low
		if hc := abs(cur.High - prev.Close); hc > tr {
			tr = hc
		}
		if lc := abs(cur.Low - prev.Close); lc > tr {
			tr = lc
		}
		trs = append(trs, tr)

		upMove := cur.High - prev.High
		downMove := prev.Low - cur.Low
		plusDM, minusDM := 0.0, 0.0
		if upMove > downMove && upMove > 0 {
			plusDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM = downMove
		}
		plusDMs = append(plusDMs, plusDM)
		minusDMs = append(minusDMs, minusDM)
	}

	// Seed the smoothed sums with the first window.
	var smTR, smPlus, smMinus float64
	for i := 0; i < period; i++ {
		smTR += trs[i]
		smPlus += plusDMs[i]
		smMinus += minusDMs[i]
	}

	dx := func() float64 {
		if smTR == 0 {
			return 0
		}
		plusDI := 100 * smPlus / smTR
		minusDI := 100 * smMinus / smTR
		sum := plusDI + minusDI
		if sum == 0 {
			return 0
		}
		return 100 * abs(plusDI-minusDI) / sum
	}

	var adx float64
	var dxCount int
	for i := period; i < len(trs); i++ {
		smTR = smTR - smTR/float64(period) + trs[i]
		smPlus = smPlus - smPlus/float64(period) + plusDMs[i]
		smMinus = smMinus - smMinus/float64(period) + minusDMs[i]

		d := dx()
		dxCount++
		if dxCount < period {
			adx += d
			continue
		}
		if dxCount == period {
			adx = (adx + d) / float64(period)
			continue
		}
		adx = (adx*float64(period-1) + d) / float64(period)
	}
	if dxCount < period {
		return 0, false
	}
	return adx, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
