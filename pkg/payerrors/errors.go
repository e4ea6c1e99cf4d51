// Package payerrors defines the structured error taxonomy shared by the
// storage, provider, and billing packages: a stable string code plus a
// details map, instead of sentinel errors or exception hierarchies.
package payerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeConfiguration      Code = "CONFIGURATION_ERROR"
	CodeUsageLimitExceeded Code = "USAGE_LIMIT_EXCEEDED"
	CodeSubscriptionExpired Code = "SUBSCRIPTION_EXPIRED"
	CodeFeatureNotAvailable Code = "FEATURE_NOT_AVAILABLE"
	CodePaymentFailed       Code = "PAYMENT_FAILED"
	CodePaymentRequired     Code = "PAYMENT_REQUIRED"
	CodeInvalidPaymentMethod Code = "INVALID_PAYMENT_METHOD"
	CodeStorage             Code = "STORAGE_ERROR"
	CodeProvider            Code = "PROVIDER_ERROR"
)

// Error is the envelope every taxonomy member shares: {code, message, details}.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying error for %w-style chains without
// changing the code or message.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

func newErr(code Code, msg string, details map[string]any) *Error {
	if details == nil {
		details = map[string]any{}
	}
	return &Error{Code: code, Message: msg, Details: details}
}

// Validation builds a ValidationError for a single field/value/constraint violation.
func Validation(field string, value any, constraint string) *Error {
	return newErr(CodeValidation, fmt.Sprintf("%s: %s", field, constraint), map[string]any{
		"field":      field,
		"value":      value,
		"constraint": constraint,
	})
}

// Configuration builds a ConfigurationError.
func Configuration(msg string, details map[string]any) *Error {
	return newErr(CodeConfiguration, msg, details)
}

// UsageLimitExceeded is a member of the AccessControlError family.
func UsageLimitExceeded(userID, feature string, limit int64) *Error {
	return newErr(CodeUsageLimitExceeded, "usage limit exceeded", map[string]any{
		"user_id": userID,
		"feature": feature,
		"limit":   limit,
	})
}

// SubscriptionExpired is a member of the AccessControlError family.
func SubscriptionExpired(subscriptionID string) *Error {
	return newErr(CodeSubscriptionExpired, "subscription expired", map[string]any{
		"subscription_id": subscriptionID,
	})
}

// FeatureNotAvailable is a member of the AccessControlError family.
func FeatureNotAvailable(feature, planID string) *Error {
	return newErr(CodeFeatureNotAvailable, "feature not available on plan", map[string]any{
		"feature": feature,
		"plan_id": planID,
	})
}

// PaymentFailed is a member of the PaymentError family.
func PaymentFailed(reason string, details map[string]any) *Error {
	return newErr(CodePaymentFailed, reason, details)
}

// PaymentRequired is a member of the PaymentError family.
func PaymentRequired(feature string) *Error {
	return newErr(CodePaymentRequired, "payment required for feature", map[string]any{
		"feature": feature,
	})
}

// InvalidPaymentMethod is a member of the PaymentError family.
func InvalidPaymentMethod(method string) *Error {
	return newErr(CodeInvalidPaymentMethod, "invalid payment method", map[string]any{
		"payment_method": method,
	})
}

// Storage builds a StorageError.
func Storage(msg string, details map[string]any) *Error {
	return newErr(CodeStorage, msg, details)
}

// Provider builds a ProviderError.
func Provider(msg string, details map[string]any) *Error {
	return newErr(CodeProvider, msg, details)
}

// As is a thin convenience wrapper over errors.As for *Error.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

// CodeOf extracts the Code from err if it (or something it wraps) is *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
