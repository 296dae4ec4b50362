package ledger

import "errors"

// Ledger error kinds. These are business errors the boundary layer
// translates to transport responses; everything else is a storage
// failure and propagates wrapped.
var (
	// ErrInsufficientBalance rejects a debit the balance cannot cover.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrAccountFrozen rejects spending on a frozen account.
	ErrAccountFrozen = errors.New("ledger: account frozen")
	// ErrUserNotFound marks an unknown user id.
	ErrUserNotFound = errors.New("ledger: user not found")
	// ErrPrechargeNotFound marks an unknown precharge id.
	ErrPrechargeNotFound = errors.New("ledger: precharge not found")
	// ErrPrechargeConsumed rejects a second settle or refund of the
	// same precharge record.
	ErrPrechargeConsumed = errors.New("ledger: precharge already consumed")
)
