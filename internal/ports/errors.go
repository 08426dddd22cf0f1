package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Broker Specific Errors
	ErrBrokerUnavailable    = errors.New("broker API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the broker")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("broker authentication failed (check access token)")
	ErrOrderNotFound        = errors.New("order not found at the broker")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrNoChain              = errors.New("no option chain available")
	ErrNoExpirations        = errors.New("no expirations available")

	// Gateway Specific Errors
	ErrGatewayUnavailable = errors.New("execution gateway is unavailable")
	ErrProposalRejected   = errors.New("proposal rejected by the gateway")
	ErrUnauthorized       = errors.New("gateway authentication failed (check API secret)")

	// Repository Specific Errors
	ErrDBConnection = errors.New("position store connection error")
	ErrQueryFailed  = errors.New("position store query failed")
	ErrUpdateFailed = errors.New("position store update failed")
	ErrDeleteFailed = errors.New("position store delete failed")
)
