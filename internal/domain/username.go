package domain

import "errors"

var (
	// ErrUsernameTooShort is returned for usernames under 3 characters.
	ErrUsernameTooShort = errors.New("username must be at least 3 characters")
	// ErrUsernameTooLong is returned for usernames over 20 characters.
	ErrUsernameTooLong = errors.New("username must be at most 20 characters")
	// ErrUsernameInvalid is returned for non-alphanumeric usernames.
	ErrUsernameInvalid = errors.New("username must be alphanumeric")
)

// ValidateUsername enforces the alphanumeric 3-20 character policy.
func ValidateUsername(u Username) error {
	switch {
	case len(u) < 3:
		return ErrUsernameTooShort
	case len(u) > 20:
		return ErrUsernameTooLong
	}
	for _, r := range u {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return ErrUsernameInvalid
		}
	}
	return nil
}
