package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/nerrad567/endpoint-cloud/internal/auth"
	"github.com/nerrad567/endpoint-cloud/internal/topology"
)

// ctxKeyPrincipal is the context key for the authorized compute unit.
const ctxKeyPrincipal contextKey = "principal"

// PrincipalFrom returns the compute unit a request was authorized as, or ""
// when the route is open.
func PrincipalFrom(ctx context.Context) string {
	p, _ := ctx.Value(ctxKeyPrincipal).(string) //nolint:errcheck // absent on open routes
	return p
}

// signedIdentity admits a request only when its bearer token was issued to a
// compute unit whose policy allows invoking this method on this route.
func (s *Server) signedIdentity(route topology.Route, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r)
		if err != nil {
			writeUnauthorized(w, "signed identity required")
			return
		}
		claims, err := auth.ParseToken(token, s.secCfg.JWT.Secret)
		if err != nil {
			s.logger.Debug("rejected token", "path", route.Path, "error", err)
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		if claims.Kind != auth.KindUnit {
			writeForbidden(w, "only compute units may call this route")
			return
		}

		enforcer, err := s.topo.Enforcer(claims.Subject)
		if err != nil {
			writeForbidden(w, "unknown principal "+claims.Subject)
			return
		}
		resource := s.topo.RouteARN(r.Method, route.Path)
		if err := enforcer.Authorize(topology.ActionInvokeAPI, resource); err != nil {
			if !errors.Is(err, topology.ErrAccessDenied) {
				writeInternalError(w, "authorization failed")
				return
			}
			s.logger.Warn("invoke denied",
				"principal", claims.Subject,
				"method", r.Method,
				"path", route.Path,
			)
			writeForbidden(w, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
