package services

import "github.com/google/uuid"

// Caller is the identity a request was made with. UserID is nil for
// anonymous donors; Authorization is forwarded to collaborators.
type Caller struct {
	UserID        *uuid.UUID
	Authorization string
}

func (c Caller) Authenticated() bool { return c.UserID != nil }

func ownedBy(owner *uuid.UUID, caller Caller) bool {
	return owner != nil && caller.UserID != nil && *owner == *caller.UserID
}
