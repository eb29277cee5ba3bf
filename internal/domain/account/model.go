package account

import (
	"strings"
	"time"

	"github.com/ayursutra/ayursutra/internal/platform/messaging"
)

type Purpose string

const (
	PurposeSignup Purpose = "signup"
	PurposeLogin  Purpose = "login"
)

func (p Purpose) Valid() bool {
	return p == PurposeSignup || p == PurposeLogin
}

// Challenge is a pending one-time code for a destination. Only the bcrypt
// hash of the code is kept.
type Challenge struct {
	Destination string            `db:"destination" json:"destination"`
	Channel     messaging.Channel `db:"channel" json:"channel"`
	Purpose     Purpose           `db:"purpose" json:"purpose"`
	Role        string            `db:"role" json:"role"`
	CodeHash    string            `db:"code_hash" json:"-"`
	Attempts    int               `db:"attempts" json:"attempts"`
	ExpiresAt   time.Time         `db:"expires_at" json:"expires_at"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}

func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// MaskDestination hides most of an address so responses do not echo it.
func MaskDestination(dest string) string {
	if at := strings.IndexByte(dest, '@'); at > 0 {
		return dest[:1] + strings.Repeat("*", at-1) + dest[at:]
	}
	if len(dest) <= 4 {
		return strings.Repeat("*", len(dest))
	}
	return strings.Repeat("*", len(dest)-4) + dest[len(dest)-4:]
}
