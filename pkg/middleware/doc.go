// Package middleware provides HTTP middleware for authentication, firm
// resolution, subscription write gating, and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: Bearer token authentication
//
//	authMW := middleware.NewAuthMiddleware(tokenManager, logger, false)
//	router.Use(authMW.Handler)
//
// FirmContext / RequireFirm: resolve the caller's firm from the users table
// on every request and reject callers without one. The firm id is never
// taken from the token, so leaving a firm takes effect immediately.
//
//	router.Use(middleware.FirmContext(firmService, logger))
//	router.Use(middleware.RequireFirm)
//
// WriteGate: answers 402 with the guard's reason when the firm's
// subscription does not allow writes. Safe methods always pass.
//
//	writes.Use(middleware.WriteGate(guard, logger))
//
// RateLimitMiddleware: per-user and per-IP limits, in memory or on Redis
//
//	rl := middleware.NewInMemoryRateLimitMiddleware(logger)
//	rl := middleware.NewDistributedRateLimitMiddleware(redisClient, middleware.PerUserRateLimitConfig(), logger)
//	router.Use(rl.Handler)
//
// # Rate Limiting
//
// Default (Anonymous): 100 req/min, 10 burst
// Per-User: 1000 req/min, 50 burst
//
// The Redis limiter uses a fixed window. When Redis is unreachable the
// middleware lets the request through and logs a warning.
//
// # Related Packages
//
//   - pkg/auth: Token validation
//   - pkg/firms: Membership lookup and subscription guard
package middleware
