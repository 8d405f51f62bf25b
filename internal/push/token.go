package push

import (
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// APNs accepts provider tokens between 20 and 60 minutes old. One token
// is shared across all sends and re-minted at 50 minutes, comfortably
// inside the window.
const tokenLifetime = 50 * time.Minute

// providerToken mints and caches the ES256 bearer credential used to
// authenticate with APNs. Safe for concurrent use.
type providerToken struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string

	mu       sync.Mutex
	bearer   string
	issuedAt time.Time
}

// newProviderToken parses a .p8 signing key and prepares a token source
// for it. No token is minted until the first send asks for one.
func newProviderToken(pemKey []byte, keyID, teamID string) (*providerToken, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return &providerToken{
		key:    key,
		keyID:  keyID,
		teamID: teamID,
	}, nil
}

// current returns the cached bearer, minting a fresh one when the cached
// token is within reach of the gateway's 60-minute ceiling.
func (p *providerToken) current() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bearer != "" && time.Since(p.issuedAt) < tokenLifetime {
		return p.bearer, nil
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": p.teamID,
		"iat": now.Unix(),
	})
	token.Header["kid"] = p.keyID

	signed, err := token.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign provider token: %w", err)
	}

	p.bearer = signed
	p.issuedAt = now
	return signed, nil
}
