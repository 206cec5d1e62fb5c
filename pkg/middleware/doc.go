// Package middleware provides the HTTP middleware that guards the metering API.
//
// AccountAuth resolves the bearer credential to an account and stores it on
// the request context:
//
//	router.Handle("/api/v1/users/me", middleware.AccountAuth(accountService)(meHandler))
//	acct, ok := middleware.AccountFromContext(r.Context())
//
// InternalToken protects operator and billing-processor endpoints with a
// shared secret compared in constant time:
//
//	admin.Use(middleware.InternalToken(cfg.Security.InternalToken))
//
// RateLimit throttles unauthenticated endpoints per client address. Use a
// RedisLimiter when several instances serve traffic and a MemoryLimiter
// otherwise:
//
//	limiter := middleware.NewRedisLimiter(redisClient, middleware.DefaultRateLimitConfig(), "meter:")
//	create := middleware.RateLimit(limiter, logger)(createHandler)
package middleware
