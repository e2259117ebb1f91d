package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidSignature   = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature is invalid"}
	ErrAmountMismatch     = &AppError{http.StatusBadRequest, "AMOUNT_MISMATCH", "Paid amount does not match the order total"}
	ErrOrderNotPending    = &AppError{http.StatusConflict, "ORDER_NOT_PENDING", "Order is not awaiting payment"}
	ErrProductUnavailable = &AppError{http.StatusUnprocessableEntity, "PRODUCT_UNAVAILABLE", "Product is unavailable"}
	ErrInsufficientFunds  = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "Insufficient funds"}
	ErrAccountBanned      = &AppError{http.StatusForbidden, "ACCOUNT_BANNED", "Account is banned"}
)
