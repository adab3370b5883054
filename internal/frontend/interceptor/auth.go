package interceptor

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/linkflow/engine/internal/security/authn"
)

const (
	authorizationHeader = "authorization"
	bearerPrefix        = "Bearer "
)

// AuthInterceptor is a thin gRPC adapter over authn.JWTValidator: it pulls
// the bearer token out of incoming metadata and rejects the call if
// validation fails, but holds none of the signature-verification logic
// itself.
type AuthInterceptor struct {
	skipMethods map[string]bool
	validator   *authn.JWTValidator
}

type AuthConfig struct {
	SkipMethods []string
	SecretKey   string // JWT signing secret (min 32 chars)
	Issuer      string // Expected token issuer
	Audience    string // Expected token audience
}

// ErrInvalidSecretKey is returned when the JWT secret key is invalid.
var ErrInvalidSecretKey = errors.New("JWT_SECRET must be at least 32 characters for security")

// NewAuthInterceptor creates a new authentication interceptor.
// Returns an error if the secret key is too short (minimum 32 characters required).
func NewAuthInterceptor(cfg AuthConfig) (*AuthInterceptor, error) {
	skipMethods := make(map[string]bool)
	for _, method := range cfg.SkipMethods {
		skipMethods[method] = true
	}

	// Get secret key from config or environment
	secretKey := cfg.SecretKey
	if secretKey == "" {
		secretKey = os.Getenv("JWT_SECRET")
	}

	// Validate secret key length (min 32 chars for security)
	if len(secretKey) < 32 {
		return nil, ErrInvalidSecretKey
	}

	validator, err := authn.NewJWTValidator(authn.JWTConfig{
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		SecretKey: secretKey,
	})
	if err != nil {
		return nil, err
	}

	return &AuthInterceptor{
		skipMethods: skipMethods,
		validator:   validator,
	}, nil
}

func (a *AuthInterceptor) UnaryInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	if a.skipMethods[info.FullMethod] {
		return handler(ctx, req)
	}

	token, err := a.extractToken(ctx)
	if err != nil {
		return nil, err
	}

	claims, err := a.ValidateTokenContext(ctx, token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	ctx = context.WithValue(ctx, claimsContextKey{}, claims)

	return handler(ctx, req)
}

func (a *AuthInterceptor) StreamInterceptor(
	srv interface{},
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	if a.skipMethods[info.FullMethod] {
		return handler(srv, ss)
	}

	token, err := a.extractToken(ss.Context())
	if err != nil {
		return err
	}

	_, err = a.ValidateTokenContext(ss.Context(), token)
	if err != nil {
		return status.Error(codes.Unauthenticated, "invalid token")
	}

	return handler(srv, ss)
}

func (a *AuthInterceptor) extractToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}

	authHeaders := md.Get(authorizationHeader)
	if len(authHeaders) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing authorization header")
	}

	authHeader := authHeaders[0]
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", status.Error(codes.Unauthenticated, "invalid authorization header format")
	}

	return strings.TrimPrefix(authHeader, bearerPrefix), nil
}

// Claims mirrors authn.Claims under the field names this package's
// callers already expect (Namespace/Permissions instead of Scopes).
type Claims struct {
	Subject   string   `json:"sub"`
	Issuer    string   `json:"iss"`
	Audience  []string `json:"aud"`
	ExpiresAt int64    `json:"exp"`
	IssuedAt  int64    `json:"iat"`
	NotBefore int64    `json:"nbf"`

	Namespace   string   `json:"namespace,omitempty"`
	WorkspaceID string   `json:"workspace_id,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

// ValidateToken delegates signature verification and claim checks to
// authn.JWTValidator, then adapts the result into this package's Claims.
func (a *AuthInterceptor) ValidateToken(token string) (*Claims, error) {
	return a.ValidateTokenContext(context.Background(), token)
}

// ValidateTokenContext is ValidateToken with an explicit context, for
// callers (the interceptors) that already have one from the RPC.
func (a *AuthInterceptor) ValidateTokenContext(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "empty token")
	}

	claims, err := a.validator.Validate(ctx, token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}

	return &Claims{
		Subject:     claims.Subject,
		Issuer:      claims.Issuer,
		Audience:    claims.Audience,
		ExpiresAt:   numericDateUnix(claims.ExpiresAt),
		IssuedAt:    numericDateUnix(claims.IssuedAt),
		NotBefore:   numericDateUnix(claims.NotBefore),
		WorkspaceID: claims.WorkspaceID,
		UserID:      claims.UserID,
		Permissions: claims.Scopes,
		Roles:       claims.Roles,
	}, nil
}

// numericDateUnix converts a jwt.NumericDate (nil for an absent/optional
// claim) into the unix-seconds representation this package's Claims uses.
func numericDateUnix(d *jwt.NumericDate) int64 {
	if d == nil {
		return 0
	}
	return d.Unix()
}

type claimsContextKey struct{}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return claims, ok
}
