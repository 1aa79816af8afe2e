package oauth

// maskOAuthSecret masks an OAuth secret by showing the first 3 and last 4 characters.
// For secrets shorter than 8 characters, it returns "***".
//
// Used for client ids and codes in debug logs.
func maskOAuthSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	// Show first 3 and last 4 chars: "abc***xyz9"
	return secret[:3] + "***" + secret[len(secret)-4:]
}
