package session

import (
	"errors"
	"fmt"

	"github.com/dropps07/GG-Monad/internal/rooms"
)

// StatusError rejects an action because the room is not in the state the
// action requires. The message names the current state so a user can tell a
// room that has not filled yet apart from one that is already over.
type StatusError struct {
	Status   rooms.Status
	Required rooms.Status
}

func (e *StatusError) Error() string {
	if e.Status == rooms.StatusFilling {
		return fmt.Sprintf("room is still Filling, scores can be submitted once it turns %s", e.Required.Display())
	}
	return fmt.Sprintf("room is %s, not %s", e.Status.Display(), e.Required.Display())
}

// NotPlayerError rejects a submission from an address that is not on the
// room's roster.
type NotPlayerError struct {
	Address string
	RoomID  int64
}

func (e *NotPlayerError) Error() string {
	return fmt.Sprintf("address %s is not a player in room %d", e.Address, e.RoomID)
}

// AlreadySubmittedError rejects a repeat submission. It is the one rejection
// that proves a prior submission exists, so callers mark the session played.
type AlreadySubmittedError struct {
	Address string
	RoomID  int64
}

func (e *AlreadySubmittedError) Error() string {
	return fmt.Sprintf("address %s already submitted a score for room %d", e.Address, e.RoomID)
}

// InsufficientBalanceError rejects a join or create whose entry fee exceeds
// the player's available points. Advisory: the ledger re-validates.
type InsufficientBalanceError struct {
	Available int64
	Required  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d points, entry fee is %d", e.Available, e.Required)
}

// RoomFullError rejects a join on a roster that has reached capacity.
type RoomFullError struct {
	RoomID     int64
	MaxPlayers int
}

func (e *RoomFullError) Error() string {
	return fmt.Sprintf("room %d is full (%d players)", e.RoomID, e.MaxPlayers)
}

// InviteRequiredError rejects a private-room join attempted without a code.
type InviteRequiredError struct {
	RoomID int64
}

func (e *InviteRequiredError) Error() string {
	return fmt.Sprintf("room %d is private, an invite code is required", e.RoomID)
}

// NotCreatorError rejects a cancel from anyone but the room's creator.
type NotCreatorError struct {
	Address string
	RoomID  int64
}

func (e *NotCreatorError) Error() string {
	return fmt.Sprintf("address %s did not create room %d and cannot cancel it", e.Address, e.RoomID)
}

// RosterUnknownError reports that the roster read failed, so membership and
// submission facts could not be checked. Retryable; never a verdict about
// the player.
type RosterUnknownError struct {
	RoomID int64
	Cause  error
}

func (e *RosterUnknownError) Error() string {
	return fmt.Sprintf("roster unknown for room %d: %v", e.RoomID, e.Cause)
}

func (e *RosterUnknownError) Unwrap() error { return e.Cause }

// --- Classifiers ---

// IsStatusRejection reports whether err is a room-state precondition failure.
func IsStatusRejection(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// IsNotPlayer reports whether err rejected a non-member's submission.
func IsNotPlayer(err error) bool {
	var npe *NotPlayerError
	return errors.As(err, &npe)
}

// IsAlreadySubmitted reports whether err rejected a repeat submission.
func IsAlreadySubmitted(err error) bool {
	var ase *AlreadySubmittedError
	return errors.As(err, &ase)
}

// IsInsufficientBalance reports whether err rejected an unaffordable stake.
func IsInsufficientBalance(err error) bool {
	var ibe *InsufficientBalanceError
	return errors.As(err, &ibe)
}

// IsRoomFull reports whether err rejected a join on a full roster.
func IsRoomFull(err error) bool {
	var rfe *RoomFullError
	return errors.As(err, &rfe)
}

// IsInviteRequired reports whether err rejected a codeless private join.
func IsInviteRequired(err error) bool {
	var ire *InviteRequiredError
	return errors.As(err, &ire)
}

// IsNotCreator reports whether err rejected a non-creator cancel.
func IsNotCreator(err error) bool {
	var nce *NotCreatorError
	return errors.As(err, &nce)
}

// IsRosterUnknown reports whether err means membership facts were unreadable.
func IsRosterUnknown(err error) bool {
	var rue *RosterUnknownError
	return errors.As(err, &rue)
}
