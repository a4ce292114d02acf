package gateway

import (
	"errors"

	"github.com/dropps07/GG-Monad/internal/ledger"
	"github.com/dropps07/GG-Monad/internal/session"
)

// Error type identifiers used in gateway error responses.
const (
	ErrTypeStatus              = "status_error"
	ErrTypeNotPlayer           = "not_player"
	ErrTypeAlreadySubmitted    = "already_submitted"
	ErrTypeInsufficientBalance = "insufficient_balance"
	ErrTypeRoomFull            = "room_full"
	ErrTypeInviteRequired      = "invite_required"
	ErrTypeBadInviteCode       = "bad_invite_code"
	ErrTypeNotCreator          = "not_creator"
	ErrTypeNotWinner           = "not_winner"
	ErrTypeAlreadyClaimed      = "already_claimed"
	ErrTypeNotCompleted        = "not_completed"
	ErrTypeNotFound            = "not_found"
	ErrTypeTransient           = "transient"
	ErrTypeLedgerAuth          = "ledger_auth"
	ErrTypeValidation          = "validation_error"
	ErrTypeUnauthorized        = "unauthorized"
	ErrTypeInternal            = "internal_error"
)

// apiError is the gateway's error response body. Retryable marks transient
// failures the caller should retry rather than surface as terminal.
type apiError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// classify maps an engine error to an HTTP status and response body. The
// typed classifiers decide; unrecognized errors fall through as internal.
func classify(err error) (int, apiError) {
	msg := err.Error()
	switch {
	// Client-side validation rejections.
	case session.IsStatusRejection(err):
		return 409, apiError{Type: ErrTypeStatus, Message: msg}
	case session.IsNotPlayer(err):
		return 403, apiError{Type: ErrTypeNotPlayer, Message: msg}
	case session.IsAlreadySubmitted(err):
		return 409, apiError{Type: ErrTypeAlreadySubmitted, Message: msg}
	case session.IsInsufficientBalance(err):
		return 402, apiError{Type: ErrTypeInsufficientBalance, Message: msg}
	case session.IsRoomFull(err):
		return 409, apiError{Type: ErrTypeRoomFull, Message: msg}
	case session.IsInviteRequired(err):
		return 400, apiError{Type: ErrTypeInviteRequired, Message: msg}
	case session.IsNotCreator(err):
		return 403, apiError{Type: ErrTypeNotCreator, Message: msg}
	case session.IsRosterUnknown(err):
		return 503, apiError{Type: ErrTypeTransient, Message: msg, Retryable: true}

	// Ledger rejections.
	case ledger.IsNotFound(err):
		return 404, apiError{Type: ErrTypeNotFound, Message: msg}
	case ledger.IsBadInviteCode(err):
		return 403, apiError{Type: ErrTypeBadInviteCode, Message: msg}
	case ledger.IsAlreadySubmitted(err):
		return 409, apiError{Type: ErrTypeAlreadySubmitted, Message: msg}
	case ledger.IsNotActive(err):
		return 409, apiError{Type: ErrTypeStatus, Message: msg}
	case ledger.IsRoomFull(err):
		return 409, apiError{Type: ErrTypeRoomFull, Message: msg}
	case ledger.IsNotWinner(err):
		return 403, apiError{Type: ErrTypeNotWinner, Message: msg}
	case ledger.IsAlreadyClaimed(err):
		return 409, apiError{Type: ErrTypeAlreadyClaimed, Message: msg}
	case ledger.IsNotCompleted(err):
		return 409, apiError{Type: ErrTypeNotCompleted, Message: msg}
	case ledger.IsNotCreator(err):
		return 403, apiError{Type: ErrTypeNotCreator, Message: msg}
	case ledger.IsNotFilling(err):
		return 409, apiError{Type: ErrTypeStatus, Message: msg}
	case ledger.IsInsufficientBalance(err):
		return 402, apiError{Type: ErrTypeInsufficientBalance, Message: msg}

	// Session token rejected by the ledger, not by the gateway.
	case isLedgerAuth(err):
		return 502, apiError{Type: ErrTypeLedgerAuth, Message: msg}

	// Network/availability failures: retryable, never terminal.
	case ledger.IsTransient(err):
		return 503, apiError{Type: ErrTypeTransient, Message: msg, Retryable: true}
	}
	return 500, apiError{Type: ErrTypeInternal, Message: msg}
}

func isLedgerAuth(err error) bool {
	var ae *ledger.AuthError
	return errors.As(err, &ae)
}
