package middleware

import (
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nexus-retail/opsplane/infrastructure/serviceauth"
)

// bearerSubjectClaims is deliberately thinner than serviceauth.ServiceClaims:
// UserContext only ever reads the registered subject, never the
// service-to-service issuer/audience fields used for service auth.
type bearerSubjectClaims struct {
	jwt.RegisteredClaims
}

// UserContext decodes the bearer token's subject claim, when present, and
// attaches it to the request context so downstream middleware (the
// persistent per-user block check, rate-limit keying) can read it via
// GetUserID. Admin authentication/authorization is out of scope here: a
// missing, malformed, or unverifiable token is not rejected, it simply
// leaves the request anonymous for blocking/limiting purposes.
func UserContext(publicKey *rsa.PublicKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if publicKey == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sub := bearerSubject(r, publicKey); sub != "" {
				r = r.WithContext(serviceauth.WithUserID(r.Context(), sub))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerSubject extracts and validates the subject claim from an
// Authorization: Bearer RS256 JWT, returning "" on any failure.
func bearerSubject(r *http.Request, publicKey *rsa.PublicKey) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	tokenString := strings.TrimSpace(auth[len(prefix):])
	if tokenString == "" {
		return ""
	}

	claims := &bearerSubjectClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return publicKey, nil
	})
	if err != nil || !token.Valid {
		return ""
	}

	sub := claims.Subject
	if sub == "" || !isValidUserID(sub) {
		return ""
	}
	return sub
}

// isValidUserID validates user ID format (UUID): 8-4-4-4-12 hex characters.
func isValidUserID(userID string) bool {
	if len(userID) != 36 {
		return false
	}
	parts := strings.Split(userID, "-")
	if len(parts) != 5 {
		return false
	}
	expectedLengths := []int{8, 4, 4, 4, 12}
	for i, part := range parts {
		if len(part) != expectedLengths[i] {
			return false
		}
		for _, c := range part {
			if !isHexChar(c) {
				return false
			}
		}
	}
	return true
}

// isHexChar checks if a character is a valid hexadecimal character.
func isHexChar(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
