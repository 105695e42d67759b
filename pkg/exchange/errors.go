package exchange

import "errors"

// Rejection reasons surfaced to callers. Every failed match or cancel
// wraps exactly one of these so front-ends can tell "order already used"
// apart from "offer too low". All are recoverable: state is unchanged
// and the caller may retry with corrected inputs.
var (
	ErrSideMismatch            = errors.New("order sides do not match")
	ErrInvalidOrder            = errors.New("order fields invalid")
	ErrInvalidSignature        = errors.New("invalid maker signature")
	ErrOrderExpired            = errors.New("order outside validity window")
	ErrOrderAlreadyExecuted    = errors.New("order nonce executed or cancelled")
	ErrStrategyRejected        = errors.New("strategy rejected match")
	ErrUnsupportedStrategy     = errors.New("strategy not registered")
	ErrCurrencyNotWhitelisted  = errors.New("currency not whitelisted")
	ErrProceedsBelowMinimum    = errors.New("net proceeds below seller minimum")
	ErrUnsupportedCollection   = errors.New("no transfer manager for collection")
	ErrTransferFailed          = errors.New("asset transfer failed")
	ErrPaymentFailed           = errors.New("payment transfer failed")
	ErrUnauthorizedCancellation = errors.New("cancellation not permitted")
)
