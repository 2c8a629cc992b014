package entity

import (
	"errors"
	"strings"
)

var ErrInvalidUserType = errors.New("invalid user type")

// UserType is the role a participant holds in a conversation.
// The portal has exactly two roles and every message crosses between them.
type UserType string

const (
	UserTypeOwner    UserType = "owner"
	UserTypeEmployee UserType = "employee"
)

// ParseUserType accepts the lowercase wire form as well as the
// capitalised role names issued in credentials ("Owner", "Employee").
func ParseUserType(s string) (UserType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(UserTypeOwner):
		return UserTypeOwner, nil
	case string(UserTypeEmployee):
		return UserTypeEmployee, nil
	}
	return "", ErrInvalidUserType
}

func (t UserType) Valid() bool {
	return t == UserTypeOwner || t == UserTypeEmployee
}

// Complement returns the opposite role. Callers validate t first;
// an unknown role is a programming error.
func (t UserType) Complement() UserType {
	switch t {
	case UserTypeOwner:
		return UserTypeEmployee
	case UserTypeEmployee:
		return UserTypeOwner
	}
	panic("entity: complement of unknown user type " + string(t))
}

func (t UserType) String() string {
	return string(t)
}

// Identity is the verified subject of a credential.
type Identity struct {
	UserId   string   `json:"userId"`
	UserType UserType `json:"userType"`
	Role     string   `json:"role,omitempty"`
}
