package http

import (
	"errors"
	"net/http"

	"github.com/ai-friend-coming/chatledger/internal/ledger"
)

// StatusForLedgerError maps ledger failures onto HTTP status codes for the
// host application's chat handlers: an empty wallet is a payment problem, a
// frozen account a permission one.
func StatusForLedgerError(errLedger error) int {
	switch {
	case errLedger == nil:
		return http.StatusOK
	case errors.Is(errLedger, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(errLedger, ledger.ErrAccountFrozen):
		return http.StatusForbidden
	case errors.Is(errLedger, ledger.ErrUserNotFound),
		errors.Is(errLedger, ledger.ErrPrechargeNotFound):
		return http.StatusNotFound
	case errors.Is(errLedger, ledger.ErrPrechargeConsumed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
