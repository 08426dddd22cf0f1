package tradier

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// The broker's JSON is loose in two ways this file papers over:
//   - numeric fields sometimes arrive as strings, as the literal string
//     "null", or as JSON null
//   - any list of one element may arrive as a bare object (and an empty
//     container as the string "null"), so list fields decode scalar-or-array

// flexFloat is a float64 that tolerates string and null encodings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "null") {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// stringList decodes "a", ["a","b"], null, or "null" into a slice.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if nullish(data) {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var out []string
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		*l = out
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = []string{s}
	return nil
}

// nullish reports a JSON null or the broker's string-encoded "null".
func nullish(data []byte) bool {
	return len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`"null"`))
}

// wireGreeks mirrors the greeks object attached to option quotes.
type wireGreeks struct {
	Delta flexFloat `json:"delta"`
	Gamma flexFloat `json:"gamma"`
	Theta flexFloat `json:"theta"`
	Vega  flexFloat `json:"vega"`
	MidIV flexFloat `json:"mid_iv"`
}

// wireQuote mirrors one quote row (equity or option).
type wireQuote struct {
	Symbol         string      `json:"symbol"`
	Last           flexFloat   `json:"last"`
	Bid            flexFloat   `json:"bid"`
	Ask            flexFloat   `json:"ask"`
	Underlying     string      `json:"underlying"`
	Strike         flexFloat   `json:"strike"`
	OptionType     string      `json:"option_type"`
	ExpirationDate string      `json:"expiration_date"`
	Greeks         *wireGreeks `json:"greeks"`
}

// quoteList decodes the scalar-or-array "quote" field.
type quoteList []wireQuote

func (l *quoteList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if nullish(data) {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var out []wireQuote
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		*l = out
		return nil
	}
	var one wireQuote
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*l = []wireQuote{one}
	return nil
}

// wirePosition mirrors one row of the account position ledger.
type wirePosition struct {
	Symbol       string    `json:"symbol"`
	Quantity     flexFloat `json:"quantity"`
	CostBasis    flexFloat `json:"cost_basis"`
	DateAcquired string    `json:"date_acquired"`
}

type positionList []wirePosition

func (l *positionList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if nullish(data) {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var out []wirePosition
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		*l = out
		return nil
	}
	var one wirePosition
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*l = []wirePosition{one}
	return nil
}

// positionsEnvelope handles {"positions": "null"} as well as the populated
// object form.
type positionsEnvelope struct {
	Positions positionList
}

func (e *positionsEnvelope) UnmarshalJSON(data []byte) error {
	var outer struct {
		Positions json.RawMessage `json:"positions"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		return err
	}
	if nullish(bytes.TrimSpace(outer.Positions)) {
		e.Positions = nil
		return nil
	}
	var inner struct {
		Position positionList `json:"position"`
	}
	if err := json.Unmarshal(outer.Positions, &inner); err != nil {
		return err
	}
	e.Positions = inner.Position
	return nil
}

// wireOrder mirrors an order status row.
type wireOrder struct {
	ID           json.Number `json:"id"`
	Status       string      `json:"status"`
	AvgFillPrice flexFloat   `json:"avg_fill_price"`
	ExecQuantity flexFloat   `json:"exec_quantity"`
	CreateDate   string      `json:"create_date"`
}
