package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims are the standard claims of a session token; the subject is the user id
type AccessClaims struct {
	jwt.RegisteredClaims
}
