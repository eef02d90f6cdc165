package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/harborgrid/sessiond/internal/models"
	"github.com/harborgrid/sessiond/internal/risk"
	"github.com/harborgrid/sessiond/internal/tenant"
	pkghttp "github.com/harborgrid/sessiond/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing the resolved session in context
	SessionContextKey contextKey = "session"

	// SessionCookieName is the httpOnly cookie carrying the opaque token
	SessionCookieName = "session_token"

	// FingerprintHeader carries the client's device fingerprint hash
	FingerprintHeader = "X-Device-Fingerprint"

	// VerifyHeader signals that the session should complete verification
	VerifyHeader = "X-Session-Verify"

	// ChallengeHeader signals that the session must complete a fresh
	// verification ceremony before security-sensitive actions
	ChallengeHeader = "X-Session-Challenge"
)

// SessionResolver defines what the pipeline needs from the session service
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string, securitySensitive bool) (*models.Session, error)
	EvaluateRequest(ctx context.Context, session *models.Session, ipAddress, userAgent, fingerprintHash string) (*risk.Evaluation, error)
}

// TenantBinder pins a database connection to the session's tenant for the
// duration of the request. Binding is fail-closed: no scope, no request.
type TenantBinder interface {
	Begin(ctx context.Context, tenantID *uuid.UUID) (*tenant.Scope, error)
}

// SessionPipeline is the per-request authentication and risk pipeline:
// token extraction, session resolution, tenant binding, risk evaluation,
// verdict enforcement.
type SessionPipeline struct {
	resolver SessionResolver
	binder   TenantBinder // nil disables tenant binding
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewSessionPipeline creates a new SessionPipeline
func NewSessionPipeline(resolver SessionResolver, binder TenantBinder, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *SessionPipeline {
	return &SessionPipeline{
		resolver: resolver,
		binder:   binder,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// RequireSession resolves the session token and runs the full pipeline.
// securitySensitive operations always bypass the snapshot cache.
func (p *SessionPipeline) RequireSession(securitySensitive bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractSessionToken(r)
			if token == "" {
				pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
				return
			}

			session, err := p.resolver.ResolveSession(r.Context(), token, securitySensitive)
			if err != nil {
				pkghttp.WriteModelError(w, err)
				return
			}

			ctx := r.Context()

			if p.binder != nil {
				scope, err := p.binder.Begin(ctx, session.TenantID)
				if err != nil {
					// Fail closed: a request that cannot be tenant-scoped
					// does not run.
					p.logger.Error("tenant binding failed",
						slog.String("session_id", session.ID.String()),
						slog.Any("error", err))
					pkghttp.WriteInternalError(w, "Internal server error")
					return
				}
				defer scope.Close(ctx)
				// Downstream data access picks the scoped connection up
				// from the context.
				ctx = tenant.WithScope(ctx, scope)
			}
			if session.TenantID != nil {
				ctx = tenant.WithTenant(ctx, *session.TenantID)
			}

			ipAddress := pkghttp.ExtractClientIP(r, p.ipConfig)
			userAgent := pkghttp.UserAgent(r)
			fingerprintHash := strings.TrimSpace(r.Header.Get(FingerprintHeader))

			eval, err := p.resolver.EvaluateRequest(ctx, session, ipAddress, userAgent, fingerprintHash)
			if err != nil {
				pkghttp.WriteModelError(w, err)
				return
			}

			switch eval.Decision {
			case risk.DecisionTerminate:
				// The session is already invalidated; the client must
				// re-authenticate upstream.
				pkghttp.WriteModelError(w, models.ErrSecurityViolation)
				return
			case risk.DecisionChallenge:
				// The stronger flag: the client must complete a fresh
				// verification ceremony, but the request itself proceeds.
				// Only terminate denies outright.
				w.Header().Set(ChallengeHeader, "required")
			case risk.DecisionVerify:
				// The request proceeds, flagged so the client can start the
				// verification ceremony.
				w.Header().Set(VerifyHeader, "required")
			}

			ctx = context.WithValue(ctx, SessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext retrieves the resolved session placed by the pipeline.
func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	session, ok := ctx.Value(SessionContextKey).(*models.Session)
	return session, ok
}

// ExtractSessionToken pulls the opaque token from the request: the httpOnly
// cookie wins, with the "Authorization: Session <token>" header as the
// fallback for non-browser clients.
func ExtractSessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Session") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
