package interceptor

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/linkflow/engine/internal/security/authz"
)

// MethodPermission maps a gRPC full method name (e.g.
// "/linkflow.frontend.v1.FrontendService/StartWorkflowExecution") to the
// RBAC resource/action pair it requires.
type MethodPermission struct {
	Resource string
	Action   string
}

// AuthzInterceptor runs after AuthInterceptor: it reads the Claims the auth
// interceptor left in context and checks them against an RBAC policy keyed
// by gRPC method. Methods with no registered permission are allowed through
// unchecked, so wiring this in does not silently lock out unmapped RPCs.
type AuthzInterceptor struct {
	authorizer  *authz.RBACAuthorizer
	permissions map[string]MethodPermission
	skipMethods map[string]bool
}

func NewAuthzInterceptor(authorizer *authz.RBACAuthorizer, permissions map[string]MethodPermission, skipMethods []string) *AuthzInterceptor {
	skip := make(map[string]bool, len(skipMethods))
	for _, m := range skipMethods {
		skip[m] = true
	}
	return &AuthzInterceptor{
		authorizer:  authorizer,
		permissions: permissions,
		skipMethods: skip,
	}
}

func (a *AuthzInterceptor) UnaryInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	if a.skipMethods[info.FullMethod] {
		return handler(ctx, req)
	}

	perm, required := a.permissions[info.FullMethod]
	if !required {
		return handler(ctx, req)
	}

	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing claims for authorization check")
	}

	subject := &authz.Subject{
		UserID:      claims.UserID,
		WorkspaceID: claims.WorkspaceID,
		Roles:       claims.Roles,
	}
	if err := a.authorizer.Authorize(ctx, subject, perm.Resource, perm.Action); err != nil {
		return nil, status.Errorf(codes.PermissionDenied, "%s: %s on %s", err, perm.Action, perm.Resource)
	}

	return handler(ctx, req)
}

// MethodPermissionFromService builds the permission key for a method name
// given the full service path LinkFlow's gRPC services register under.
func MethodPermissionFromService(service, method string) string {
	return "/" + strings.TrimPrefix(service, "/") + "/" + method
}
