package lifecycle

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"optionsBrain/internal/domain"
	"optionsBrain/internal/ports"
)

// errNoStructure means the chain offered no tradable structure (no suitable
// strikes, or a dead quote on a required leg). It aborts the entry silently;
// it is a market condition, not a fault.
var errNoStructure = errors.New("no tradable structure")

const (
	dteMin         = 14
	dteTarget      = 30
	dteMax         = 45
	dteFallbackMin = 7
	dteFallbackMax = 60
	sameDayDTEMax  = 3

	shortOTMFraction  = 0.02 // short strike distance when greeks are missing
	targetShortDelta  = 0.20
	minWingWidth      = 5.0 // dollars between short and long strike, multi-day
	intradayWingWidth = 1.0 // same-day verticals stay tight to cap the debit
)

var priceBuffer = decimal.NewFromFloat(0.05)
var minLimit = decimal.NewFromFloat(0.05)

// structure is a fully resolved multi-leg order candidate. credit is the net
// per-contract premium (positive = credit received, negative = debit paid);
// limit is the always-positive limit price for the order ticket.
type structure struct {
	legs   []domain.Leg
	credit decimal.Decimal
	limit  decimal.Decimal
	width  float64 // widest wing, drives position sizing
}

// dte is whole days from now (local date) to the expiration date.
func dte(expiration string, now time.Time, loc *time.Location) (int, error) {
	exp, err := time.Parse(domain.ExpirationLayout, expiration)
	if err != nil {
		return 0, err
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return int(exp.Sub(today).Hours() / 24), nil
}

// chooseExpiration picks the expiration closest to the target DTE within the
// preferred band, widening to the fallback band before giving up.
func chooseExpiration(expirations []string, now time.Time, loc *time.Location) (string, error) {
	best := func(lo, hi int) (string, bool) {
		chosen, bestDist := "", 0
		for _, e := range expirations {
			d, err := dte(e, now, loc)
			if err != nil || d < lo || d > hi {
				continue
			}
			dist := d - dteTarget
			if dist < 0 {
				dist = -dist
			}
			if chosen == "" || dist < bestDist {
				chosen, bestDist = e, dist
			}
		}
		return chosen, chosen != ""
	}

	if e, ok := best(dteMin, dteMax); ok {
		return e, nil
	}
	if e, ok := best(dteFallbackMin, dteFallbackMax); ok {
		return e, nil
	}
	return "", ports.ErrNoExpirations
}

// chooseSameDay picks today's expiration for intraday structures, tolerating
// a short gap for underlyings without daily expirations.
func chooseSameDay(expirations []string, now time.Time, loc *time.Location) (string, error) {
	chosen, bestDTE := "", 0
	for _, e := range expirations {
		d, err := dte(e, now, loc)
		if err != nil || d < 0 || d > sameDayDTEMax {
			continue
		}
		if chosen == "" || d < bestDTE {
			chosen, bestDTE = e, d
		}
	}
	if chosen == "" {
		return "", ports.ErrNoExpirations
	}
	return chosen, nil
}

// contractsOf filters and strike-sorts one side of a chain.
func contractsOf(chain []ports.OptionQuote, typ domain.OptionType) []ports.OptionQuote {
	out := make([]ports.OptionQuote, 0, len(chain)/2)
	for _, q := range chain {
		if q.Type == typ {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}

func liquid(q ports.OptionQuote) bool {
	return q.Bid > 0 && q.Ask > 0
}

// shortStrikeByDelta picks the OTM contract whose delta magnitude is nearest
// the target. Returns false when the chain carries no greeks.
func shortStrikeByDelta(side []ports.OptionQuote, typ domain.OptionType, price float64) (ports.OptionQuote, bool) {
	var chosen ports.OptionQuote
	found := false
	bestDist := 0.0
	for _, q := range side {
		if q.Greeks == nil {
			continue
		}
		otm := (typ == domain.Put && q.Strike < price) || (typ == domain.Call && q.Strike > price)
		if !otm {
			continue
		}
		delta := q.Greeks.Delta
		if delta < 0 {
			delta = -delta
		}
		dist := delta - targetShortDelta
		if dist < 0 {
			dist = -dist
		}
		if !found || dist < bestDist {
			chosen, bestDist, found = q, dist, true
		}
	}
	return chosen, found
}

// shortStrikeByDistance falls back to a fixed OTM fraction: puts take the
// highest strike at or below price*(1-f), calls the lowest at or above
// price*(1+f).
func shortStrikeByDistance(side []ports.OptionQuote, typ domain.OptionType, price float64) (ports.OptionQuote, bool) {
	if typ == domain.Put {
		bound := price * (1 - shortOTMFraction)
		for i := len(side) - 1; i >= 0; i-- {
			if side[i].Strike <= bound {
				return side[i], true
			}
		}
		return ports.OptionQuote{}, false
	}
	bound := price * (1 + shortOTMFraction)
	for _, q := range side {
		if q.Strike >= bound {
			return q, true
		}
	}
	return ports.OptionQuote{}, false
}

// wing picks the nearest contract at least width dollars beyond the anchor
// strike, further out of the money.
func wing(side []ports.OptionQuote, typ domain.OptionType, anchorStrike, width float64) (ports.OptionQuote, bool) {
	if typ == domain.Put {
		bound := anchorStrike - width
		for i := len(side) - 1; i >= 0; i-- {
			if side[i].Strike <= bound {
				return side[i], true
			}
		}
		return ports.OptionQuote{}, false
	}
	bound := anchorStrike + width
	for _, q := range side {
		if q.Strike >= bound {
			return q, true
		}
	}
	return ports.OptionQuote{}, false
}

// creditSpreadLegs resolves a two-leg vertical credit spread: short leg near
// the target delta (or the fixed OTM distance), long wing beyond it.
func creditSpreadLegs(chain []ports.OptionQuote, typ domain.OptionType, price float64) (short, long ports.OptionQuote, err error) {
	side := contractsOf(chain, typ)
	if len(side) == 0 {
		return short, long, errNoStructure
	}
	short, ok := shortStrikeByDelta(side, typ, price)
	if !ok {
		short, ok = shortStrikeByDistance(side, typ, price)
	}
	if !ok {
		return short, long, errNoStructure
	}
	long, ok = wing(side, typ, short.Strike, minWingWidth)
	if !ok {
		return short, long, errNoStructure
	}
	if !liquid(short) || !liquid(long) {
		return short, long, errNoStructure
	}
	return short, long, nil
}

// debitVerticalLegs resolves an intraday directional vertical: long the
// contract nearest the money, short the wing beyond it to cut the debit.
func debitVerticalLegs(chain []ports.OptionQuote, typ domain.OptionType, price float64) (long, short ports.OptionQuote, err error) {
	side := contractsOf(chain, typ)
	if len(side) == 0 {
		return long, short, errNoStructure
	}
	ok := false
	if typ == domain.Call {
		for _, q := range side {
			if q.Strike >= price {
				long, ok = q, true
				break
			}
		}
	} else {
		for i := len(side) - 1; i >= 0; i-- {
			if side[i].Strike <= price {
				long, ok = side[i], true
				break
			}
		}
	}
	if !ok {
		return long, short, errNoStructure
	}
	short, ok = wing(side, typ, long.Strike, intradayWingWidth)
	if !ok || !liquid(long) || !liquid(short) {
		return long, short, errNoStructure
	}
	return long, short, nil
}

func makeLeg(q ports.OptionQuote, side domain.LegSide, quantity int) domain.Leg {
	return domain.Leg{
		Symbol:     q.Symbol,
		Expiration: q.Expiration,
		Strike:     q.Strike,
		Type:       q.Type,
		Quantity:   quantity,
		Side:       side,
	}
}

// netPremium is the per-contract premium of a set of legs at current quotes:
// sold legs earn the bid, bought legs pay the ask. Positive = net credit.
func netPremium(legs []ports.OptionQuote, sides []domain.LegSide) decimal.Decimal {
	total := decimal.Zero
	for i, q := range legs {
		if sides[i] == domain.Sell {
			total = total.Add(decimal.NewFromFloat(q.Bid))
		} else {
			total = total.Sub(decimal.NewFromFloat(q.Ask))
		}
	}
	return total.Round(2)
}

// buildStructure assembles legs, premium, limit and width for an intent.
func buildStructure(intent domain.TradeIntent, chain []ports.OptionQuote, price float64) (*structure, error) {
	switch intent.Strategy {
	case domain.StrategyCreditSpread:
		short, long, err := creditSpreadLegs(chain, intent.OptionType, price)
		if err != nil {
			return nil, err
		}
		credit := netPremium([]ports.OptionQuote{short, long}, []domain.LegSide{domain.Sell, domain.Buy})
		if credit.LessThanOrEqual(decimal.Zero) {
			return nil, errNoStructure
		}
		limit := credit.Sub(priceBuffer)
		if limit.LessThan(minLimit) {
			limit = minLimit
		}
		return &structure{
			legs:   []domain.Leg{makeLeg(short, domain.Sell, 1), makeLeg(long, domain.Buy, 1)},
			credit: credit,
			limit:  limit,
			width:  abs(short.Strike - long.Strike),
		}, nil

	case domain.StrategyIronCondor:
		putShort, putLong, err := creditSpreadLegs(chain, domain.Put, price)
		if err != nil {
			return nil, err
		}
		callShort, callLong, err := creditSpreadLegs(chain, domain.Call, price)
		if err != nil {
			return nil, err
		}
		credit := netPremium(
			[]ports.OptionQuote{putShort, putLong, callShort, callLong},
			[]domain.LegSide{domain.Sell, domain.Buy, domain.Sell, domain.Buy},
		)
		if credit.LessThanOrEqual(decimal.Zero) {
			return nil, errNoStructure
		}
		limit := credit.Sub(priceBuffer)
		if limit.LessThan(minLimit) {
			limit = minLimit
		}
		width := abs(putShort.Strike - putLong.Strike)
		if w := abs(callShort.Strike - callLong.Strike); w > width {
			width = w
		}
		return &structure{
			legs: []domain.Leg{
				makeLeg(putShort, domain.Sell, 1), makeLeg(putLong, domain.Buy, 1),
				makeLeg(callShort, domain.Sell, 1), makeLeg(callLong, domain.Buy, 1),
			},
			credit: credit,
			limit:  limit,
			width:  width,
		}, nil

	case domain.StrategyORBIntraday:
		long, short, err := debitVerticalLegs(chain, intent.OptionType, price)
		if err != nil {
			return nil, err
		}
		premium := netPremium([]ports.OptionQuote{long, short}, []domain.LegSide{domain.Buy, domain.Sell})
		if premium.GreaterThanOrEqual(decimal.Zero) {
			return nil, errNoStructure // a debit vertical must cost something
		}
		limit := premium.Neg().Add(priceBuffer)
		return &structure{
			legs:   []domain.Leg{makeLeg(long, domain.Buy, 1), makeLeg(short, domain.Sell, 1)},
			credit: premium, // negative: net debit
			limit:  limit,
			width:  abs(long.Strike - short.Strike),
		}, nil
	}
	return nil, errNoStructure
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
