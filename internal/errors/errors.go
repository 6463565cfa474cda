// Package errors defines the error taxonomy shared by the betting engine.
//
// Every rejection carries a Kind. Callers match on kind with the standard
// library:
//
//	if errors.Is(err, apperrors.ErrAlreadySettled) { ... }
//
// ServiceError values compare equal by Kind, so a detailed error built with
// New or Newf still matches the sentinel of the same kind.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindInvalidAmount        Kind = "InvalidAmount"
	KindInsufficientBalance  Kind = "InsufficientBalance"
	KindBetOutOfRange        Kind = "BetOutOfRange"
	KindNotOperational       Kind = "NotOperational"
	KindNotAuthorized        Kind = "NotAuthorized"
	KindInvalidChoice        Kind = "InvalidChoice"
	KindCommitmentMissing    Kind = "CommitmentMissing"
	KindCommitmentPending    Kind = "CommitmentPending"
	KindCommitmentNotReady   Kind = "CommitmentNotReady"
	KindCommitmentExpired    Kind = "CommitmentExpired"
	KindInvalidReveal        Kind = "InvalidReveal"
	KindAlreadyRegistered    Kind = "AlreadyRegistered"
	KindInvalidHouseEdge     Kind = "InvalidHouseEdge"
	KindPayoutExceedsLimit   Kind = "PayoutExceedsLimit"
	KindRequestNotFound      Kind = "RequestNotFound"
	KindRequestNotFulfilled  Kind = "RequestNotFulfilled"
	KindRequestFulfilled     Kind = "RequestFulfilled"
	KindRequestNotExpired    Kind = "RequestNotExpired"
	KindRequestReplaced      Kind = "RequestReplaced"
	KindAlreadySettled       Kind = "AlreadySettled"
	KindAlreadyRefunded      Kind = "AlreadyRefunded"
	KindAssetNotAllowed      Kind = "AssetNotAllowed"
	KindRoundClosed          Kind = "RoundClosed"
	KindDrawNotReady         Kind = "DrawNotReady"
	KindDrawAlreadyRequested Kind = "DrawAlreadyRequested"
	KindGameNotFound         Kind = "GameNotFound"
	KindInvalidConfig        Kind = "InvalidConfig"
)

// ServiceError is the concrete error returned by services.
type ServiceError struct {
	Kind       Kind
	Message    string
	HTTPStatus int
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports kind equality so detailed errors match their sentinel.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind with a message.
func New(kind Kind, msg string) *ServiceError {
	return &ServiceError{Kind: kind, Message: msg, HTTPStatus: statusFor(kind)}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *ServiceError {
	return New(kind, fmt.Sprintf(format, args...))
}

// KindOf extracts the kind of err, or "" when err is not a ServiceError.
func KindOf(err error) Kind {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// HTTPStatus maps err to a response status; unknown errors are 500.
func HTTPStatus(err error) int {
	var se *ServiceError
	if stderrors.As(err, &se) && se.HTTPStatus != 0 {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Sentinels, one per kind.
var (
	ErrInvalidAmount        = New(KindInvalidAmount, "")
	ErrInsufficientBalance  = New(KindInsufficientBalance, "")
	ErrBetOutOfRange        = New(KindBetOutOfRange, "")
	ErrNotOperational       = New(KindNotOperational, "")
	ErrNotAuthorized        = New(KindNotAuthorized, "")
	ErrInvalidChoice        = New(KindInvalidChoice, "")
	ErrCommitmentMissing    = New(KindCommitmentMissing, "")
	ErrCommitmentPending    = New(KindCommitmentPending, "")
	ErrCommitmentNotReady   = New(KindCommitmentNotReady, "")
	ErrCommitmentExpired    = New(KindCommitmentExpired, "")
	ErrInvalidReveal        = New(KindInvalidReveal, "")
	ErrAlreadyRegistered    = New(KindAlreadyRegistered, "")
	ErrInvalidHouseEdge     = New(KindInvalidHouseEdge, "")
	ErrPayoutExceedsLimit   = New(KindPayoutExceedsLimit, "")
	ErrRequestNotFound      = New(KindRequestNotFound, "")
	ErrRequestNotFulfilled  = New(KindRequestNotFulfilled, "")
	ErrRequestFulfilled     = New(KindRequestFulfilled, "")
	ErrRequestNotExpired    = New(KindRequestNotExpired, "")
	ErrRequestReplaced      = New(KindRequestReplaced, "")
	ErrAlreadySettled       = New(KindAlreadySettled, "")
	ErrAlreadyRefunded      = New(KindAlreadyRefunded, "")
	ErrAssetNotAllowed      = New(KindAssetNotAllowed, "")
	ErrRoundClosed          = New(KindRoundClosed, "")
	ErrDrawNotReady         = New(KindDrawNotReady, "")
	ErrDrawAlreadyRequested = New(KindDrawAlreadyRequested, "")
	ErrGameNotFound         = New(KindGameNotFound, "")
	ErrInvalidConfig        = New(KindInvalidConfig, "")
)

func statusFor(kind Kind) int {
	switch kind {
	case KindNotAuthorized:
		return http.StatusForbidden
	case KindRequestNotFound, KindGameNotFound, KindCommitmentMissing:
		return http.StatusNotFound
	case KindNotOperational:
		return http.StatusServiceUnavailable
	case KindInvalidConfig:
		return http.StatusInternalServerError
	case KindAlreadyRegistered, KindAlreadySettled, KindAlreadyRefunded,
		KindCommitmentPending, KindRequestFulfilled, KindRequestReplaced,
		KindDrawAlreadyRequested:
		return http.StatusConflict
	case KindCommitmentNotReady, KindRequestNotFulfilled, KindRequestNotExpired,
		KindDrawNotReady:
		return http.StatusTooEarly
	case KindCommitmentExpired, KindRoundClosed:
		return http.StatusGone
	case KindPayoutExceedsLimit, KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}
