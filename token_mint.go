package auth

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/goliatone/go-errors"
)

// actionTokenBytes is the entropy of a minted single-use token.
const actionTokenBytes = 32

// MintActionToken returns a high-entropy opaque token value for the
// single-use credential flows. The value is url-safe so it can ride in a
// link without escaping.
func MintActionToken() (string, error) {
	buf := make([]byte, actionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to mint action token")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
