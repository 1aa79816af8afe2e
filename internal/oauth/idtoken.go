package oauth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims are the OpenID Connect claims of interest in a SMART
// id_token. FHIRUser is the resource reference of the logged-in user, for
// example "Patient/1011537977V693883".
type IDTokenClaims struct {
	jwt.RegisteredClaims
	FHIRUser string `json:"fhirUser,omitempty"`
}

// ParseIDToken decodes raw without verifying its signature. The robot has no
// key material for the provider; the claims are only logged.
func ParseIDToken(raw string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("malformed id_token: %w", err)
	}
	return claims, nil
}
