package tradier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsBrain/internal/domain"
	"optionsBrain/internal/ports"
)

type mockLogger struct{}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{
		BaseURL:   server.URL,
		Token:     "test-token",
		AccountID: "ACC123",
	}, &mockLogger{})
	require.NoError(t, err)
	return client, server
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "https://x", Token: "t"}, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewClient(Config{BaseURL: "https://x", Token: "t", AccountID: "a"}, nil)
	assert.Error(t, err)
}

func TestGetQuotes(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/markets/quotes", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"quotes":{"quote":[
			{"symbol":"SPY","last":500.25,"bid":500.20,"ask":500.30},
			{"symbol":"VIX","last":"18.50","bid":"null","ask":"null"}
		]}}`))
	})

	quotes, err := client.GetQuotes(context.Background(), []string{"SPY", "VIX"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, 500.25, quotes[0].Last)
	assert.Equal(t, 18.50, quotes[1].Last)
	assert.Zero(t, quotes[1].Bid)
}

func TestGetOptionChain(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2025-07-03", r.URL.Query().Get("expiration"))
		w.Write([]byte(`{"options":{"option":[
			{"symbol":"SPY250703P00490000","underlying":"SPY","strike":490,"option_type":"put",
			 "expiration_date":"2025-07-03","bid":1.20,"ask":1.30,
			 "greeks":{"delta":-0.21,"mid_iv":0.18}},
			{"symbol":"SPY250703C00510000","underlying":"SPY","strike":510,"option_type":"call",
			 "expiration_date":"2025-07-03","bid":0.90,"ask":1.00}
		]}}`))
	})

	chain, err := client.GetOptionChain(context.Background(), "SPY", "2025-07-03")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, domain.Put, chain[0].Type)
	require.NotNil(t, chain[0].Greeks)
	assert.Equal(t, -0.21, chain[0].Greeks.Delta)
	assert.Equal(t, domain.Call, chain[1].Type)
	assert.Nil(t, chain[1].Greeks)
}

func TestGetOptionChain_Empty(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"options":null}`))
	})
	_, err := client.GetOptionChain(context.Background(), "SPY", "2025-07-03")
	assert.ErrorIs(t, err, ports.ErrNoChain)
}

func TestGetExpirations_SingleDate(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"expirations":{"date":"2025-07-03"}}`))
	})
	dates, err := client.GetExpirations(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-07-03"}, dates)
}

func TestGetOrderStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/ACC123/orders/42", r.URL.Path)
		w.Write([]byte(`{"order":{"id":42,"status":"filled","avg_fill_price":"0.45","exec_quantity":"4"}}`))
	})

	status, err := client.GetOrderStatus(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", status.OrderID)
	assert.Equal(t, ports.OrderFilled, status.State)
	assert.Equal(t, 0.45, status.AvgFillPrice)
	assert.Equal(t, 4.0, status.ExecQuantity)
}

func TestGetOrderStatus_NotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := client.GetOrderStatus(context.Background(), "42")
	assert.ErrorIs(t, err, ports.ErrOrderNotFound)
}

func TestGetPositions_EmptyAccount(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"positions":"null"}`))
	})
	positions, err := client.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestGetPositions_CreditBasis(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"positions":{"position":{
			"symbol":"SPY250718P00490000","quantity":-2,"cost_basis":-240.0,
			"date_acquired":"2025-06-02T14:30:00Z"}}}`))
	})
	positions, err := client.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, -2.0, positions[0].Quantity)
	assert.Equal(t, -240.0, positions[0].CostBasis)
	assert.False(t, positions[0].Acquired.IsZero())
}

func TestGetEquity(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balances":{"total_equity":"104250.75"}}`))
	})
	equity, err := client.GetEquity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 104250.75, equity)
}

func TestHandleStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusOK, nil},
		{http.StatusUnauthorized, ports.ErrAuthenticationFailed},
		{http.StatusForbidden, ports.ErrAuthenticationFailed},
		{http.StatusNotFound, ports.ErrNotFound},
		{http.StatusTooManyRequests, ports.ErrRateLimited},
		{http.StatusBadGateway, ports.ErrBrokerUnavailable},
		{http.StatusBadRequest, ports.ErrInvalidRequest},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, handleStatus(tt.status), tt.want)
	}
}
