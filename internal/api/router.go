package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/julienschmidt/httprouter"
	apiContext "suemybrother/internal/api/context"
	"suemybrother/internal/api/handlers"
	"suemybrother/internal/api/middleware"
	"suemybrother/internal/engine/access"
	"suemybrother/internal/engine/identity"
	"suemybrother/internal/pkg/errors"
	"suemybrother/internal/pkg/logger"
	"suemybrother/internal/platform/metrics"
)

type Dependencies struct {
	SuitHandler       *handlers.SuitHandler
	AuthHandler       *handlers.AuthHandler
	AdminHandler      *handlers.AdminHandler
	AuditHandler      *handlers.AuditHandler
	HealthHandler     *handlers.HealthHandler
	MetricsHandler    *handlers.MetricsHandler
	SessionMiddleware *middleware.SessionMiddleware
	CallbackLimiter   *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()
	router.RedirectTrailingSlash = true

	sess := deps.SessionMiddleware.Handle
	limit := deps.CallbackLimiter.Handle
	admin := requirePermission(access.Admin)
	acceptSuits := requirePermission(access.Admin, access.AcceptSuits)

	router.GET("/healthz", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	// Filing flow
	router.GET("/", chain(deps.SuitHandler.Index, sess))
	router.GET("/details", chain(deps.SuitHandler.Details, sess))
	router.POST("/details", chain(deps.SuitHandler.Details, sess))
	router.GET("/details/:action", chain(deps.SuitHandler.Details, sess))
	router.POST("/details/:action", chain(deps.SuitHandler.Details, sess))
	router.GET("/start", chain(deps.SuitHandler.Start, sess))
	router.GET("/start-suit", chain(deps.SuitHandler.StartSuit, sess))
	router.POST("/start-suit", chain(deps.SuitHandler.StartSuit, sess))
	router.GET("/pay", chain(deps.SuitHandler.Pay, sess))
	router.POST("/pay", chain(deps.SuitHandler.Pay, sess))
	router.GET("/confirm/:uid", chain(deps.SuitHandler.Confirm, limit, sess))
	router.GET("/status/:suit", chain(deps.SuitHandler.Status, sess))

	// Authentication
	router.GET("/login", chain(deps.AuthHandler.Login, sess))
	router.GET("/oidc/callback", chain(deps.AuthHandler.Callback, limit, sess))
	router.GET("/logout", chain(deps.AuthHandler.Logout, sess))
	router.GET("/reauthenticate", chain(deps.AuthHandler.Reauthenticate, sess))

	// Staff
	router.GET("/admin", chain(deps.AdminHandler.Index, sess, admin))
	router.GET("/admin/suits", chain(deps.AdminHandler.Suits, sess, admin))
	router.GET("/admin/suits/:suit/accept", chain(deps.AdminHandler.ConfirmAccept, sess, acceptSuits))
	router.POST("/admin/suits/:suit/accept", chain(deps.AdminHandler.Accept, sess, acceptSuits))
	router.POST("/admin/suits/:suit/reject", chain(deps.AdminHandler.Reject, sess, acceptSuits))
	router.GET("/admin/users", chain(deps.AdminHandler.Users, sess, admin))
	router.POST("/admin/users/:user", chain(deps.AdminHandler.UpdateUser, sess, admin))
	router.POST("/admin/users/:user/delete", chain(deps.AdminHandler.DeleteUser, sess, admin))
	router.GET("/admin/audit", chain(deps.AuditHandler.List, sess, admin))

	return router
}

// Handler wraps the router with request logging and metrics.
func Handler(deps *Dependencies) http.Handler {
	return logger.Requests(metrics.Instrument(NewRouter(deps)))
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

// requirePermission must run after the session middleware. Anonymous
// visitors are sent to log in and brought back afterwards.
func requirePermission(perms ...access.Permission) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			actor, _ := r.Context().Value(apiContext.Actor).(*identity.Actor)

			d := access.Authorize(actor, perms...)
			switch d.Reason {
			case access.ReasonNone:
				next(w, r)
			case access.ReasonUnauthenticated:
				http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
			default:
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", map[string]interface{}{"missing": d.Missing})
			}
		}
	}
}
