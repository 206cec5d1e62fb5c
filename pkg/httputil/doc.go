// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// Every error body has the same shape, a machine-readable code plus a human
// message:
//
//	{"error": "LimitExceeded", "message": "execution limit reached"}
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "uid is required")
//	httputil.WriteTooManyRequests(w, "LimitExceeded", "execution limit reached")
//	httputil.WriteServiceUnavailable(w, "try again shortly", 1)
//
// # Request Parsing
//
//	var req CreateUserRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	if !httputil.ValidateAll(w,
//		httputil.RequireNonEmpty("uid", req.UID),
//		httputil.RequireNonEmpty("email", req.Email),
//	) {
//		return
//	}
//
//	credential, err := httputil.BearerToken(r)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
