package health

import (
	"net/http"
	"strings"

	"github.com/nexus-retail/opsplane/infrastructure/errors"
	"github.com/nexus-retail/opsplane/infrastructure/httputil"
)

// controlPrefix is exempted from the safe-mode gate so operators can always
// reach the endpoints that inspect or disable safe mode.
const controlPrefix = "/system-mode/safe"

var mutatingMethods = map[string]bool{
	http.MethodPost: true, http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
}

// Middleware rejects mutating requests while safe mode is engaged, except
// for the safe-mode control endpoints themselves. A failure to read the
// safe-mode flag fails closed (503), since the alternative is silently
// letting a write through while the platform's own health check is down.
func Middleware(safeMode *SafeMode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutatingMethods[r.Method] || strings.HasPrefix(r.URL.Path, controlPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			enabled, err := safeMode.Enabled(r.Context())
			if err != nil {
				writeSafeModeResponse(w, r, "safe mode check failed")
				return
			}
			if enabled {
				writeSafeModeResponse(w, r, "platform is in safe mode")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeSafeModeResponse(w http.ResponseWriter, r *http.Request, reason string) {
	serviceErr := errors.SafeModeActive(reason).WithDetails("readOnly", true)
	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
}
