package lifecycle

// Sizer converts account equity and structure width into a contract quantity.
// Max loss on a defined-risk vertical is the strike width in dollars times
// the contract multiplier, so quantity is risk budget over width.
type Sizer struct {
	RiskPerTrade  float64 // fraction of equity risked per trade, e.g. 0.02
	AllocationCap float64 // max fraction of equity committed to one position, e.g. 0.10
	MaxQuantity   int     // hard contract cap per position, e.g. 20
}

// NewSizer builds a sizer with conservative defaults for any zero field.
func NewSizer(riskPerTrade, allocationCap float64, maxQuantity int) *Sizer {
	if riskPerTrade <= 0 {
		riskPerTrade = 0.02
	}
	if allocationCap <= 0 {
		allocationCap = 0.10
	}
	if maxQuantity <= 0 {
		maxQuantity = 20
	}
	return &Sizer{RiskPerTrade: riskPerTrade, AllocationCap: allocationCap, MaxQuantity: maxQuantity}
}

// Size returns the contract quantity for a structure of the given strike
// width on the given equity. Always at least 1 so a small account can still
// trade the minimum unit, never more than MaxQuantity, and never more than
// the allocation cap allows.
func (s *Sizer) Size(equity, width float64) int {
	if equity <= 0 || width <= 0 {
		return 1
	}
	riskPerContract := width * 100

	qty := int(equity * s.RiskPerTrade / riskPerContract)
	if capQty := int(equity * s.AllocationCap / riskPerContract); qty > capQty {
		qty = capQty
	}
	if qty < 1 {
		qty = 1
	}
	if qty > s.MaxQuantity {
		qty = s.MaxQuantity
	}
	return qty
}
