package domain

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidEmail   = errors.New("invalid email address")
	ErrEmptyName      = errors.New("name cannot be empty")
	ErrNameTooLong    = errors.New("name exceeds maximum length")
	ErrInvalidProfile = errors.New("invalid profile")
)

// MaxNameLength is the maximum allowed name length.
const MaxNameLength = 255

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Email is a normalised (trimmed, lower-cased) email address.
type Email struct {
	value string
}

// NewEmail validates and normalises an email address.
func NewEmail(value string) (Email, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" || !emailRegex.MatchString(value) {
		return Email{}, ErrInvalidEmail
	}
	return Email{value: value}, nil
}

func (e Email) String() string { return e.value }

// Domain returns the part after @, used to match service-account delegation.
func (e Email) Domain() string {
	_, domain, _ := strings.Cut(e.value, "@")
	return domain
}

// Name is a user's display name. It is unique across users.
type Name struct {
	value string
}

// NewName validates a display name.
func NewName(value string) (Name, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Name{}, ErrEmptyName
	}
	if len(value) > MaxNameLength {
		return Name{}, ErrNameTooLong
	}
	return Name{value: value}, nil
}

func (n Name) String() string { return n.value }

// Profile holds the optional athlete details kept with the account.
type Profile struct {
	Username string
	Squad    string
	Age      *int
	Weight   *float64
	Height   *float64
}

// Validate rejects impossible values.
func (p Profile) Validate() error {
	if p.Age != nil && (*p.Age < 0 || *p.Age > 150) {
		return errors.Join(ErrInvalidProfile, errors.New("age out of range"))
	}
	if p.Weight != nil && *p.Weight <= 0 {
		return errors.Join(ErrInvalidProfile, errors.New("weight must be positive"))
	}
	if p.Height != nil && *p.Height <= 0 {
		return errors.Join(ErrInvalidProfile, errors.New("height must be positive"))
	}
	return nil
}
