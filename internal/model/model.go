package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID        uuid.UUID
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Owner identifies whose cart a row belongs to. Exactly one of UserID or
// SessionID is set.
type Owner struct {
	UserID    uuid.UUID
	SessionID string
}

func UserOwner(id uuid.UUID) Owner { return Owner{UserID: id} }

func GuestOwner(sessionID string) Owner { return Owner{SessionID: sessionID} }

func (o Owner) IsUser() bool { return o.UserID != uuid.Nil }

func (o Owner) Valid() bool {
	return (o.UserID != uuid.Nil) != (o.SessionID != "")
}

// Key is a stable string form used for cache and session keys.
func (o Owner) Key() string {
	if o.IsUser() {
		return "user:" + o.UserID.String()
	}
	return "guest:" + o.SessionID
}

// Round2 rounds a monetary amount to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
