// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by registry spans.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	SessionIDKey      = "session.id"
	SessionStatusKey  = "session.status"
	SessionOptionsKey = "session.options"

	StoreBackendKey = "store.backend"
	StoreOpKey      = "store.op"

	ErrorKey = "error"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SessionAttributes describes a registry session. Empty values are skipped.
func SessionAttributes(id, status string, options int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if id != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, id))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(SessionStatusKey, status))
	}
	if options > 0 {
		attrs = append(attrs, attribute.Int(SessionOptionsKey, options))
	}
	return attrs
}

// StoreAttributes describes a store call.
func StoreAttributes(backend, op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(StoreBackendKey, backend),
		attribute.String(StoreOpKey, op),
	}
}
