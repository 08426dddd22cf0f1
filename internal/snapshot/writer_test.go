package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsBrain/internal/domain"
)

type mockLogger struct{}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestNewWriter_Validation(t *testing.T) {
	_, err := NewWriter("", &mockLogger{})
	assert.Error(t, err)

	_, err = NewWriter("x.json", nil)
	assert.Error(t, err)
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "snapshot.json")
	w, err := NewWriter(path, &mockLogger{})
	require.NoError(t, err)

	vix := 18.5
	state := State{
		Timestamp: time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC),
		Regime:    domain.RegimeTrending,
		Symbols: map[string]domain.IndicatorSnapshot{
			"SPY": {Symbol: "SPY", Price: 500.25, RSI: 62.1, VIX: &vix, Warm: true},
		},
		Positions: []domain.Position{
			{TradeID: "trade-1", Symbol: "SPY", Status: domain.StatusOpen, EntryPrice: 0.50},
		},
	}
	require.NoError(t, w.Write(context.Background(), state))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got State
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, domain.RegimeTrending, got.Regime)
	assert.Equal(t, 500.25, got.Symbols["SPY"].Price)
	require.Len(t, got.Positions, 1)
	assert.Equal(t, "trade-1", got.Positions[0].TradeID)
}

func TestWrite_ReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	w, err := NewWriter(path, &mockLogger{})
	require.NoError(t, err)

	require.NoError(t, w.Write(context.Background(), State{Regime: domain.RegimeLowVolChop}))
	require.NoError(t, w.Write(context.Background(), State{Regime: domain.RegimeHighVol}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got State
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, domain.RegimeHighVol, got.Regime)

	// No temp debris left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
