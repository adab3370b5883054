package authn

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenInvalid     = errors.New("token invalid")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("signature invalid")
)

// Claims embeds the standard registered claims (exp, iat, nbf, iss, sub,
// aud) from jwt.RegisteredClaims so jwt.ParseWithClaims can validate them
// directly, plus the workspace-scoped claims this engine's tokens carry.
type Claims struct {
	jwt.RegisteredClaims

	WorkspaceID string   `json:"workspace_id,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
}

// IsExpired reports whether the token's exp claim has passed.
func (c *Claims) IsExpired() bool {
	exp, err := c.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().After(exp.Time)
}

// HasScope checks if the token has a specific scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasRole checks if the token has a specific role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// JWTValidator validates JWT tokens signed with either HS256 (a shared
// secret) or RS256 (an RSA key pair), rejecting every other alg including
// "none".
type JWTValidator struct {
	issuer    string
	audience  string
	publicKey *rsa.PublicKey
	secretKey []byte

	jwksURL   string
	jwksCache map[string]*rsa.PublicKey
	jwksMu    sync.RWMutex

	parser *jwt.Parser
}

// JWTConfig holds JWT validator configuration.
type JWTConfig struct {
	Issuer    string
	Audience  string
	PublicKey string // PEM-encoded public key
	SecretKey string // For HMAC
	JWKSURL   string // For dynamic key fetching
}

// NewJWTValidator creates a new JWT validator.
func NewJWTValidator(config JWTConfig) (*JWTValidator, error) {
	v := &JWTValidator{
		issuer:    config.Issuer,
		audience:  config.Audience,
		jwksURL:   config.JWKSURL,
		jwksCache: make(map[string]*rsa.PublicKey),
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "RS256"})),
	}

	if config.PublicKey != "" {
		block, _ := pem.Decode([]byte(config.PublicKey))
		if block == nil {
			return nil, errors.New("failed to parse PEM block")
		}

		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}

		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}

		v.publicKey = rsaPub
	}

	if config.SecretKey != "" {
		v.secretKey = []byte(config.SecretKey)
	}

	return v, nil
}

// Validate parses and verifies a JWT's signature, expiration, not-before,
// issuer and audience.
func (v *JWTValidator) Validate(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := v.parser.ParseWithClaims(token, claims, v.keyFunc)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		default:
			return nil, ErrTokenInvalid
		}
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, ErrTokenInvalid
	}
	if v.audience != "" && !containsString(claims.Audience, v.audience) {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// keyFunc resolves the verification key for a parsed token based on its
// declared alg, rejecting anything the token's header claims that this
// validator wasn't configured for.
func (v *JWTValidator) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.Alg() {
	case "HS256":
		if len(v.secretKey) == 0 {
			return nil, errors.New("HMAC secret key not configured")
		}
		return v.secretKey, nil

	case "RS256":
		if kid, ok := token.Header["kid"].(string); ok && kid != "" {
			if key := v.jwksKey(kid); key != nil {
				return key, nil
			}
		}
		if v.publicKey == nil {
			return nil, errors.New("RSA public key not configured")
		}
		return v.publicKey, nil

	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", token.Method.Alg())
	}
}

// jwksKey returns a cached JWKS-resolved key for kid, if one has been
// fetched and cached already. Active fetching against jwksURL is the
// caller's responsibility (via RegisterJWKSKey) — this package does not
// perform network I/O from inside token validation.
func (v *JWTValidator) jwksKey(kid string) *rsa.PublicKey {
	v.jwksMu.RLock()
	defer v.jwksMu.RUnlock()
	return v.jwksCache[kid]
}

// RegisterJWKSKey caches a public key fetched from jwksURL under its kid.
func (v *JWTValidator) RegisterJWKSKey(kid string, key *rsa.PublicKey) {
	v.jwksMu.Lock()
	defer v.jwksMu.Unlock()
	v.jwksCache[kid] = key
}

// ExtractToken extracts the bearer token from an incoming request. Query
// parameter extraction is intentionally unsupported: tokens in URLs get
// logged, cached, and leaked via Referer headers.
func ExtractToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token := strings.TrimSpace(parts[1])
			if token != "" {
				return token, nil
			}
		}
	}

	// HttpOnly cookie, for browser-based sessions. Should be set with
	// HttpOnly, Secure, and SameSite flags.
	cookie, err := r.Cookie("__Host-token")
	if err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	cookie, err = r.Cookie("token")
	if err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	return "", errors.New("no token found")
}

// APIKeyValidator validates API keys against a pluggable loader, caching
// results until they expire.
type APIKeyValidator struct {
	keys   map[string]*APIKey
	keysMu sync.RWMutex

	loader APIKeyLoader
}

// APIKey represents an API key.
type APIKey struct {
	ID          string
	Key         string
	Name        string
	WorkspaceID string
	Scopes      []string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// APIKeyLoader loads API keys.
type APIKeyLoader interface {
	Load(ctx context.Context, keyHash string) (*APIKey, error)
}

// NewAPIKeyValidator creates a new API key validator.
func NewAPIKeyValidator(loader APIKeyLoader) *APIKeyValidator {
	return &APIKeyValidator{
		keys:   make(map[string]*APIKey),
		loader: loader,
	}
}

// Validate validates an API key, caching it in memory after the first
// successful load so repeated requests don't hit the loader every time.
func (v *APIKeyValidator) Validate(ctx context.Context, key string) (*APIKey, error) {
	v.keysMu.RLock()
	cached, exists := v.keys[key]
	v.keysMu.RUnlock()

	if exists {
		if cached.ExpiresAt != nil && time.Now().After(*cached.ExpiresAt) {
			v.keysMu.Lock()
			delete(v.keys, key)
			v.keysMu.Unlock()
			return nil, ErrTokenExpired
		}
		return cached, nil
	}

	if v.loader == nil {
		return nil, ErrTokenInvalid
	}

	apiKey, err := v.loader.Load(ctx, hashKey(key))
	if err != nil {
		return nil, ErrTokenInvalid
	}

	v.keysMu.Lock()
	v.keys[key] = apiKey
	v.keysMu.Unlock()

	return apiKey, nil
}

// ExtractAPIKey extracts an API key from either the X-API-Key header or
// an "ApiKey <key>" Authorization header.
func ExtractAPIKey(r *http.Request) (string, error) {
	key := r.Header.Get("X-API-Key")
	if key != "" {
		return key, nil
	}

	auth := r.Header.Get("Authorization")
	if auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "apikey") {
			return parts[1], nil
		}
	}

	return "", errors.New("no API key found")
}

// hashKey hashes an API key for storage/lookup so plaintext keys never
// need to be persisted.
func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func containsString(slice []string, s string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}
