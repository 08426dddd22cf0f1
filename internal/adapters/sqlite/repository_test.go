package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"optionsBrain/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "brain-test-*")
	require.NoError(t, err)

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(tmpDir, "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	})
	return repo
}

func samplePosition(tradeID string) *domain.Position {
	opened := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	return &domain.Position{
		TradeID:  tradeID,
		Symbol:   "SPY",
		Strategy: domain.StrategyCreditSpread,
		Bias:     domain.Bullish,
		Legs: []domain.Leg{
			{Symbol: "SPY250703P00490000", Expiration: "2025-07-03", Strike: 490, Type: domain.Put, Quantity: 2, Side: domain.Sell},
			{Symbol: "SPY250703P00485000", Expiration: "2025-07-03", Strike: 485, Type: domain.Put, Quantity: 2, Side: domain.Buy},
		},
		EntryPrice: 0.50,
		Quantity:   2,
		Status:     domain.StatusOpening,
		OrderID:    "entry-1",
		OpenedAt:   opened,
	}
}

func TestRepository_SaveAndLoad(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	pos := samplePosition("trade-1")
	require.NoError(t, repo.Save(ctx, pos))

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, pos.TradeID, got.TradeID)
	assert.Equal(t, pos.Symbol, got.Symbol)
	assert.Equal(t, domain.StrategyCreditSpread, got.Strategy)
	assert.Equal(t, domain.Bullish, got.Bias)
	assert.Equal(t, pos.EntryPrice, got.EntryPrice)
	assert.Equal(t, pos.Quantity, got.Quantity)
	assert.Equal(t, domain.StatusOpening, got.Status)
	assert.Equal(t, "entry-1", got.OrderID)
	require.Len(t, got.Legs, 2)
	assert.Equal(t, pos.Legs[0], got.Legs[0])
	assert.Equal(t, pos.Legs[1], got.Legs[1])

	// Unset timestamps must restore as zero values, not NULL-epoch noise.
	assert.True(t, got.FilledAt.IsZero())
	assert.True(t, got.CloseSubmittedAt.IsZero())
	assert.True(t, got.RetryAfter.IsZero())
	assert.True(t, got.OpenedAt.Equal(pos.OpenedAt))
}

func TestRepository_SaveIsAnUpsert(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	pos := samplePosition("trade-1")
	require.NoError(t, repo.Save(ctx, pos))

	pos.Status = domain.StatusClosing
	pos.CloseOrderID = "close-9"
	pos.CloseLimit = 0.30
	pos.HighestPnL = 0.40
	pos.FilledAt = pos.OpenedAt.Add(30 * time.Second)
	pos.CloseSubmittedAt = pos.OpenedAt.Add(2 * time.Hour)
	require.NoError(t, repo.Save(ctx, pos))

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	got := loaded[0]
	assert.Equal(t, domain.StatusClosing, got.Status)
	assert.Equal(t, "close-9", got.CloseOrderID)
	assert.Equal(t, 0.30, got.CloseLimit)
	assert.Equal(t, 0.40, got.HighestPnL)
	assert.True(t, got.FilledAt.Equal(pos.FilledAt))
	assert.True(t, got.CloseSubmittedAt.Equal(pos.CloseSubmittedAt))
}

func TestRepository_Delete(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, samplePosition("trade-1")))
	require.NoError(t, repo.Delete(ctx, "trade-1"))

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	// Deleting again is not an error.
	assert.NoError(t, repo.Delete(ctx, "trade-1"))
}

func TestRepository_LoadAllOrdersByOpenTime(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	newer := samplePosition("trade-newer")
	newer.OpenedAt = newer.OpenedAt.Add(time.Hour)
	older := samplePosition("trade-older")

	require.NoError(t, repo.Save(ctx, newer))
	require.NoError(t, repo.Save(ctx, older))

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "trade-older", loaded[0].TradeID)
	assert.Equal(t, "trade-newer", loaded[1].TradeID)
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: "x.db"})
	assert.Error(t, err)
}
