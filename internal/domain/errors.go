package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrProductUnavailable    = errors.New("product unavailable")
	ErrDuplicateConfirmation = errors.New("payment already confirmed")
	ErrDeliveryFailed        = errors.New("delivery failed")
	ErrOrderNotPending       = errors.New("order is not pending")
	ErrOrderNotRefundable    = errors.New("order cannot be refunded")
	ErrInvalidAmount         = errors.New("amount must be greater than zero")
	ErrInvalidQuantity       = errors.New("quantity must be greater than zero")
	ErrWithdrawBelowMinimum  = errors.New("withdraw amount below minimum")
	ErrAccountBanned         = errors.New("account is banned")
	ErrTicketMessageTooShort = errors.New("ticket message too short")
)
