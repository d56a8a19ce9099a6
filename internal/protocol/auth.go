package protocol

import (
	"crypto/sha256"
	"encoding/base64"
)

// AuthResponse derives the authentication string for an Identify message
// from the password and the challenge data of the Hello message:
//
//	base64(sha256(base64(sha256(password + salt)) + challenge))
//
// The two hash rounds chained through the intermediate base64 encoding are
// fixed by the protocol; the server compares the result byte for byte.
func AuthResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	intermediate := base64.StdEncoding.EncodeToString(secret[:])

	final := sha256.Sum256([]byte(intermediate + challenge))
	return base64.StdEncoding.EncodeToString(final[:])
}
