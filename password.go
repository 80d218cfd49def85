package auth

import (
	"unicode"

	"github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// Strength violation identifiers. Reported individually so a UI can render
// a checklist instead of a single pass/fail.
const (
	ViolationTooShort  = "too_short"
	ViolationNoUpper   = "missing_uppercase"
	ViolationNoLower   = "missing_lowercase"
	ViolationNoDigit   = "missing_digit"
	ViolationNoSpecial = "missing_special"
)

// MinPasswordLength is the floor for the length predicate.
const MinPasswordLength = 8

// Strength is the outcome of the password policy check.
type Strength struct {
	OK         bool     `json:"ok"`
	Violations []string `json:"violations,omitempty"`
}

// ValidateStrength evaluates the five independent strength predicates.
// The same check runs client-side for feedback; this one is authoritative.
func ValidateStrength(password string) Strength {
	var violations []string

	if len(password) < MinPasswordLength {
		violations = append(violations, ViolationTooShort)
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	if !hasUpper {
		violations = append(violations, ViolationNoUpper)
	}
	if !hasLower {
		violations = append(violations, ViolationNoLower)
	}
	if !hasDigit {
		violations = append(violations, ViolationNoDigit)
	}
	if !hasSpecial {
		violations = append(violations, ViolationNoSpecial)
	}

	return Strength{OK: len(violations) == 0, Violations: violations}
}

// ErrNoEmptyString rejects empty passwords before they reach bcrypt.
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryValidation).
	WithTextCode("EMPTY_PASSWORD")

// Hasher hashes and verifies passwords with a fixed configured cost. The
// cost is self-described inside each stored digest, so verification works
// against hashes created under a different cost.
type Hasher struct {
	cost      int
	dummyHash string
}

// NewHasher builds a Hasher. It precomputes a digest of a throwaway value
// so VerifyDummy costs the same as a real comparison; login uses it when
// the account does not exist to keep response timing uniform.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}

	h := &Hasher{cost: cost}
	dummy, err := bcrypt.GenerateFromPassword([]byte("timing-equalizer"), cost)
	if err == nil {
		h.dummyHash = string(dummy)
	}
	return h
}

// HashPassword generates a salted digest. This and ComparePasswordAndHash
// are the only places a plaintext password may exist; it is never logged.
func (h *Hasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to hash password")
	}
	return string(digest), nil
}

// ComparePasswordAndHash validates the given cleartext password against
// the stored digest.
func (h *Hasher) ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		// mismatch and malformed-digest failures look identical to callers
		return ErrInvalidCredentials
	}
	return nil
}

// VerifyDummy burns a bcrypt comparison against the precomputed digest.
// Always returns ErrInvalidCredentials.
func (h *Hasher) VerifyDummy(password string) error {
	_ = bcrypt.CompareHashAndPassword([]byte(h.dummyHash), []byte(password))
	return ErrInvalidCredentials
}

var _ PasswordAuthenticator = (*Hasher)(nil)
