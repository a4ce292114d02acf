package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Rejection codes returned in the ledger gateway's error envelope.
const (
	CodeRoomNotFound        = "ROOM_NOT_FOUND"
	CodeRoomFull            = "ROOM_FULL"
	CodeBadInviteCode       = "BAD_INVITE_CODE"
	CodeAlreadyJoined       = "ALREADY_JOINED"
	CodeRoomExpired         = "ROOM_EXPIRED"
	CodeRoomCanceled        = "ROOM_CANCELED"
	CodeRoomCompleted       = "ROOM_COMPLETED"
	CodeNotActive           = "NOT_ACTIVE"
	CodeNotMember           = "NOT_MEMBER"
	CodeAlreadySubmitted    = "ALREADY_SUBMITTED"
	CodeNotWinner           = "NOT_WINNER"
	CodeAlreadyClaimed      = "ALREADY_CLAIMED"
	CodeNotCompleted        = "NOT_COMPLETED"
	CodeNotCreator          = "NOT_CREATOR"
	CodeNotFilling          = "NOT_FILLING"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeBusy                = "LEDGER_BUSY"
)

// RPCError represents a rejection returned by the ledger gateway.
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("ledger: %s", e.Message)
	}
	return fmt.Sprintf("ledger: %s: %s", e.Code, e.Message)
}

// messageCodes maps known message substrings to codes. Used only by
// normalize when the gateway returns a bare message without a code;
// substring matching is a last-resort fallback, never the primary path.
var messageCodes = []struct {
	substr string
	code   string
}{
	{"not found", CodeRoomNotFound},
	{"already full", CodeRoomFull},
	{"invite", CodeBadInviteCode},
	{"already joined", CodeAlreadyJoined},
	{"expired", CodeRoomExpired},
	{"canceled", CodeRoomCanceled},
	{"not active", CodeNotActive},
	{"not a player", CodeNotMember},
	{"already submitted", CodeAlreadySubmitted},
	{"not the winner", CodeNotWinner},
	{"already claimed", CodeAlreadyClaimed},
	{"not completed", CodeNotCompleted},
	{"not the creator", CodeNotCreator},
	{"not filling", CodeNotFilling},
	{"insufficient", CodeInsufficientBalance},
}

// normalize fills in a missing Code from known message substrings.
func (e *RPCError) normalize() {
	if e.Code != "" || e.Message == "" {
		return
	}
	msg := strings.ToLower(e.Message)
	for _, mc := range messageCodes {
		if strings.Contains(msg, mc.substr) {
			e.Code = mc.code
			return
		}
	}
}

// IsBusy returns true for transient contention rejections, silently retried.
func (e *RPCError) IsBusy() bool {
	return e.Code == CodeBusy
}

// --- Package-level classifiers ---
//
// These work through errors.As so wrapped errors classify correctly.

func rpcCode(err error) string {
	var e *RPCError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound returns true if the room does not exist on the ledger.
// Distinct from transport failures: a transient read error never reports
// as not-found.
func IsNotFound(err error) bool {
	return rpcCode(err) == CodeRoomNotFound
}

// IsAlreadyJoined returns true if the address is already on the roster.
func IsAlreadyJoined(err error) bool {
	return rpcCode(err) == CodeAlreadyJoined
}

// IsRoomFull returns true if the room reached capacity before the join.
func IsRoomFull(err error) bool {
	return rpcCode(err) == CodeRoomFull
}

// IsBadInviteCode returns true if a private room rejected the invite code.
func IsBadInviteCode(err error) bool {
	return rpcCode(err) == CodeBadInviteCode
}

// IsNotActive returns true if a submission hit a room that is not active.
func IsNotActive(err error) bool {
	return rpcCode(err) == CodeNotActive
}

// IsNotMember returns true if the address is not on the room's roster.
func IsNotMember(err error) bool {
	return rpcCode(err) == CodeNotMember
}

// IsAlreadySubmitted returns true if the address already submitted a score.
func IsAlreadySubmitted(err error) bool {
	return rpcCode(err) == CodeAlreadySubmitted
}

// IsNotWinner returns true if a claim came from a non-winner.
func IsNotWinner(err error) bool {
	return rpcCode(err) == CodeNotWinner
}

// IsAlreadyClaimed returns true if the prize was already claimed.
func IsAlreadyClaimed(err error) bool {
	return rpcCode(err) == CodeAlreadyClaimed
}

// IsNotCompleted returns true if a claim hit a room that has not completed.
func IsNotCompleted(err error) bool {
	return rpcCode(err) == CodeNotCompleted
}

// IsNotCreator returns true if a cancel came from a non-creator.
func IsNotCreator(err error) bool {
	return rpcCode(err) == CodeNotCreator
}

// IsNotFilling returns true if a cancel hit a room past the filling stage.
func IsNotFilling(err error) bool {
	return rpcCode(err) == CodeNotFilling
}

// IsInsufficientBalance returns true if the player cannot cover the stake.
func IsInsufficientBalance(err error) bool {
	return rpcCode(err) == CodeInsufficientBalance
}

// IsUnjoinableState returns true for join rejections caused by the room's
// lifecycle state rather than the caller's input.
func IsUnjoinableState(err error) bool {
	switch rpcCode(err) {
	case CodeRoomExpired, CodeRoomCanceled, CodeRoomCompleted:
		return true
	}
	return false
}

// HTTPError represents a non-200 HTTP response from the ledger gateway.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("ledger: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for rate limits (429) and server errors (5xx).
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// AuthError indicates an authentication failure (token expired or invalid).
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("ledger: authentication failed (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsTransient returns true for failures of the transport itself: the read
// or write may have never reached the ledger, so the caller should retry
// or treat the state as unknown. Rejections (RPCError) and auth failures
// are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.IsBusy()
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	// Network-level failures (connection refused, timeouts, DNS).
	return true
}
