package oauth

import (
	"golang.org/x/oauth2"
)

// PKCEPair holds the verifier and challenge for an OAuth flow
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// GeneratePKCEPair generates a verifier and its S256 challenge (RFC 7636)
func GeneratePKCEPair() *PKCEPair {
	verifier := oauth2.GenerateVerifier()
	return &PKCEPair{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
	}
}

// AuthOptions are the authorization request parameters carrying the challenge
func (p *PKCEPair) AuthOptions() []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(p.Verifier)}
}

// ExchangeOptions are the token request parameters carrying the verifier
func (p *PKCEPair) ExchangeOptions() []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{oauth2.VerifierOption(p.Verifier)}
}
