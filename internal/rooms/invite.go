package rooms

import (
	"crypto/rand"
	"math/big"
)

// inviteChars excludes ambiguous characters (I, O, 0, 1).
const inviteChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// InviteCodeLen is the length of generated invite codes.
const InviteCodeLen = 6

// NewInviteCode generates a random invite code for a private room.
func NewInviteCode() string {
	b := make([]byte, InviteCodeLen)
	max := big.NewInt(int64(len(inviteChars)))
	for i := range b {
		idx, _ := rand.Int(rand.Reader, max)
		b[i] = inviteChars[idx.Int64()]
	}
	return string(b)
}
