package services

import "errors"

var (
	ErrVariantNotFound      = errors.New("variant not found")
	ErrOrderNotPayable      = errors.New("order is not in a payable status")
	ErrTooManyAttempts      = errors.New("payment attempt limit reached")
	ErrGatewayNotConfigured = errors.New("gateway not configured for tenant")
	ErrAmountMismatch       = errors.New("order total does not match payment amount")
)
