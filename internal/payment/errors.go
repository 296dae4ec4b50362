package payment

import "errors"

var (
	// ErrOrderNotFound is returned when no order matches the merchant order id.
	ErrOrderNotFound = errors.New("payment: order not found")
	// ErrInvalidAmount is returned when a requested amount is not a recharge tier.
	ErrInvalidAmount = errors.New("payment: amount is not a valid recharge tier")
	// ErrInvalidSignature is returned when the gateway signature fails verification.
	ErrInvalidSignature = errors.New("payment: invalid notify signature")
	// ErrMerchantMismatch is returned when the notify names a different merchant.
	ErrMerchantMismatch = errors.New("payment: merchant id mismatch")
	// ErrAmountMismatch is returned when the paid amount diverges from the order.
	ErrAmountMismatch = errors.New("payment: paid amount mismatch")
	// ErrOrderClosed is returned when a notify arrives for a closed order.
	ErrOrderClosed = errors.New("payment: order already closed")
)
