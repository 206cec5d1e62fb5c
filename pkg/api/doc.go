// Package api provides the HTTP API of the metering service.
//
// Routes (all under /api/v1):
//
//	POST /users/create          issue an account and its API key, idempotent per uid (internal token)
//	GET  /users/me              account details for the bearer API key
//	POST /executions/validate   consume one execution for the bearer API key
//	POST /subscriptions/update  apply a subscription change (internal token)
//	POST /usage/reset           reset every ledger whose period ended (internal token)
//	POST /billing/stripe        signed Stripe webhook deliveries
//
// Execution validation maps each outcome to its own status code so clients
// can tell a refusal from a transient failure:
//
//	200  granted, body carries used/limit/remaining/resetDate
//	401  InvalidCredential
//	403  SubscriptionInactive
//	429  LimitExceeded
//	503  no decision could be made, retry after the Retry-After delay
//
// Server wires request ids, recovery, access logging, Prometheus metrics and
// otelhttp tracing around a gorilla/mux router:
//
//	server := api.NewServer(api.Config{
//		Accounts:      accountService,
//		Authorizer:    validator,
//		Subscriptions: machine,
//		Sweeper:       scheduler,
//		InternalToken: cfg.Security.InternalToken,
//		Logger:        logger,
//		Metrics:       metrics,
//	})
//	http.ListenAndServe(":8080", server)
package api
