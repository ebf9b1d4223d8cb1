package user

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// UserIDFromToken reads the participant id out of a sign-in token.
// The signature is NOT checked: identifiers are advisory and the gate
// compares them only for equality. An empty token yields "".
func UserIDFromToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}

	if id, ok := claims["id"].(string); ok && id != "" {
		return id, nil
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("decode token subject: %w", err)
	}
	return sub, nil
}
