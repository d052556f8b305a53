// Package httputil provides the JSON request/response helpers and generic
// middleware shared by every HTTP surface.
//
// Responses:
//
//	httputil.WriteSuccess(w, client)
//	httputil.WriteForbidden(w, "insufficient permissions")
//	httputil.WritePage(w, clients, total, page)
//
// List endpoints always answer with a Page envelope. When the caller can see
// nothing the envelope is {"items": [], "total": 0} with status 200, never an
// error.
//
// Requests:
//
//	var req CreateClientRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	page, ok := httputil.ParsePaginationOrError(w, r)
//
// Middleware:
//
//	httputil.Chain(
//		httputil.RequestID,
//		httputil.RequestLogger(logger),
//		httputil.Recovery(logger),
//		httputil.MaxBytes(32<<20),
//	)
package httputil
