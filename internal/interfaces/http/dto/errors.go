package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeSystemBusy is returned when lock retries are exhausted
	ErrCodeSystemBusy = "ERR_SYSTEM_BUSY"
)

// Validation error codes
const (
	ErrCodeValidation         = "ERR_VALIDATION"
	ErrCodeValidationRequired = "ERR_VALIDATION_REQUIRED"
	ErrCodeValidationFormat   = "ERR_VALIDATION_FORMAT"
	ErrCodeInvalidQuantity    = "ERR_INVALID_QUANTITY"
	ErrCodeInvalidUnitCost    = "ERR_INVALID_UNIT_COST"
)

// Company scoping error codes
const (
	// ErrCodeCompanyRequired is used when a request carries no company
	ErrCodeCompanyRequired = "ERR_COMPANY_REQUIRED"
)

// Resource error codes
const (
	ErrCodeNotFound      = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	ErrCodeConflict      = "ERR_CONFLICT"
	// ErrCodeConcurrencyConflict is used when a locked layer changed after it was read
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
	// ErrCodeJobLocked is used when another run of an administrative job holds its lock
	ErrCodeJobLocked = "ERR_JOB_LOCKED"
)

// Row lock error codes
const (
	ErrCodeLockNotAvailable     = "ERR_LOCK_NOT_AVAILABLE"
	ErrCodeDeadlockDetected     = "ERR_DEADLOCK_DETECTED"
	ErrCodeSerializationFailure = "ERR_SERIALIZATION_FAILURE"
)

// Valuation rule error codes
const (
	ErrCodeInvalidState       = "ERR_INVALID_STATE"
	ErrCodeInsufficientStock  = "ERR_INSUFFICIENT_STOCK"
	ErrCodeNegativeBalance    = "ERR_NEGATIVE_BALANCE"
	ErrCodeMissingWarehouse   = "ERR_MISSING_WAREHOUSE"
	ErrCodeMissingCost        = "ERR_MISSING_COST"
	ErrCodeInvariantViolation = "ERR_INVARIANT_VIOLATION"
)

// Input error codes
const (
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"
)

// Rate limiting error codes
const (
	ErrCodeRateLimited     = "ERR_RATE_LIMITED"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:    http.StatusInternalServerError,
	ErrCodeInternal:   http.StatusInternalServerError,
	ErrCodeSystemBusy: http.StatusServiceUnavailable,

	// Validation errors -> 400 Bad Request
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeValidationRequired: http.StatusBadRequest,
	ErrCodeValidationFormat:   http.StatusBadRequest,
	ErrCodeInvalidQuantity:    http.StatusBadRequest,
	ErrCodeInvalidUnitCost:    http.StatusBadRequest,
	ErrCodeCompanyRequired:    http.StatusBadRequest,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConflict:            http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeJobLocked:           http.StatusConflict,

	// Transient lock errors -> 409, the client may retry
	ErrCodeLockNotAvailable:     http.StatusConflict,
	ErrCodeDeadlockDetected:     http.StatusConflict,
	ErrCodeSerializationFailure: http.StatusConflict,

	// Valuation rules -> 422 Unprocessable Entity
	ErrCodeInvalidState:       http.StatusUnprocessableEntity,
	ErrCodeInsufficientStock:  http.StatusUnprocessableEntity,
	ErrCodeNegativeBalance:    http.StatusUnprocessableEntity,
	ErrCodeMissingWarehouse:   http.StatusUnprocessableEntity,
	ErrCodeMissingCost:        http.StatusUnprocessableEntity,
	ErrCodeInvariantViolation: http.StatusInternalServerError,

	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,

	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API error codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":             ErrCodeNotFound,
	"ALREADY_EXISTS":        ErrCodeAlreadyExists,
	"INVALID_INPUT":         ErrCodeInvalidInput,
	"INVALID_QUANTITY":      ErrCodeInvalidQuantity,
	"INVALID_UNIT_COST":     ErrCodeInvalidUnitCost,
	"INVALID_STATE":         ErrCodeInvalidState,
	"CONCURRENCY_CONFLICT":  ErrCodeConcurrencyConflict,
	"INSUFFICIENT_STOCK":    ErrCodeInsufficientStock,
	"NEGATIVE_BALANCE":      ErrCodeNegativeBalance,
	"MISSING_WAREHOUSE":     ErrCodeMissingWarehouse,
	"MISSING_COST":          ErrCodeMissingCost,
	"INVARIANT_VIOLATION":   ErrCodeInvariantViolation,
	"LOCK_NOT_AVAILABLE":    ErrCodeLockNotAvailable,
	"DEADLOCK_DETECTED":     ErrCodeDeadlockDetected,
	"SERIALIZATION_FAILURE": ErrCodeSerializationFailure,
	"SYSTEM_BUSY":           ErrCodeSystemBusy,
	"INTERNAL_ERROR":        ErrCodeInternal,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Codes already in the API format or unknown pass through unchanged.
func NormalizeErrorCode(code string) string {
	if newCode, ok := DomainErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}
