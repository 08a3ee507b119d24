package auth

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// ErrChallengeMethod is returned for code challenge methods outside of
// RFC 7636
var ErrChallengeMethod = errors.New("unsupported code_challenge_method")

// GeneratePKCE produces an RFC 7636 verifier/challenge pair for the
// given method (S256 or plain)
func GeneratePKCE(method string) (string, string, error) {
	verifier := oauth2.GenerateVerifier()

	switch method {
	case "S256":
		return verifier, oauth2.S256ChallengeFromVerifier(verifier), nil
	case "plain":
		return verifier, verifier, nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrChallengeMethod, method)
	}
}
