package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/AnturK/tgstation-server/infrastructure/httputil"
	"github.com/AnturK/tgstation-server/infrastructure/logging"
)

type instanceKey struct{}

// InstanceID extracts the numeric instance id resolved by InstanceGateMiddleware.
func InstanceID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(instanceKey{}).(int64)
	return id, ok
}

// InstanceResolver confirms that instanceID names a known instance.
// Implemented in production by an adapter in internal/httpapi over its
// InstanceService; kept as an interface here so the middleware has no
// dependency on the instance package.
type InstanceResolver interface {
	Exists(ctx context.Context, instanceID int64) bool
}

type instanceGateAuditEvent struct {
	ctx    context.Context
	reason string
	method string
	path   string
	header string
}

var (
	instanceAuditLogger = logging.NewFromEnv("httpapi")
	instanceAuditOnce   sync.Once
	instanceAuditQueue  chan *instanceGateAuditEvent
)

func enqueueInstanceAudit(event *instanceGateAuditEvent) {
	if event == nil {
		return
	}
	instanceAuditOnce.Do(func() {
		instanceAuditQueue = make(chan *instanceGateAuditEvent, 256)
		go func() {
			for e := range instanceAuditQueue {
				if e == nil {
					continue
				}
				instanceAuditLogger.WithContext(e.ctx).WithFields(map[string]interface{}{
					"audit":      true,
					"event_type": "instance_gate_reject",
					"reason":     e.reason,
					"method":     e.method,
					"path":       e.path,
					"header":     e.header,
				}).Warn("Instance gate rejected request")
			}
		}()
	})

	select {
	case instanceAuditQueue <- event:
	default:
	}
}

// InstanceGateMiddleware resolves the numeric Instance header required by
// spec §6 on every /Instance/{id}/... route and rejects requests that
// carry a malformed or unknown instance id before they reach the core.
// Requests with no Instance header pass through unchanged. Resolved ids
// are attached to the request context for handlers to read via
// InstanceID.
func InstanceGateMiddleware(resolver InstanceResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Instance")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := strconv.ParseInt(header, 10, 64)
			if err != nil {
				enqueueInstanceAudit(&instanceGateAuditEvent{
					ctx: r.Context(), reason: "malformed_header", method: r.Method, path: r.URL.Path, header: header,
				})
				httputil.BadRequest(w, "malformed Instance header")
				return
			}

			if resolver != nil && !resolver.Exists(r.Context(), id) {
				enqueueInstanceAudit(&instanceGateAuditEvent{
					ctx: r.Context(), reason: "unknown_instance", method: r.Method, path: r.URL.Path, header: header,
				})
				httputil.NotFound(w, "unknown instance")
				return
			}

			ctx := context.WithValue(r.Context(), instanceKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
