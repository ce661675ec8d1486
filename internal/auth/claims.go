package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
// Every event-relay agent signs a short-lived token with the shared secret;
// SystemName must identify the telephony system the agent speaks for.
type Claims struct {
	jwt.RegisteredClaims

	SystemName string `json:"system_name"`
}
