// Package observability provides structured logging, Prometheus metrics, health checks and
// OpenTelemetry tracing for the wasteintel services.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Info("signed in")
//
// Security events (rate-limit rejections, anomaly blocks) are logged at Warn through
// SecurityEvent so they can be filtered apart from operational errors:
//
//	logger.SecurityEvent("rate_limit_exceeded", map[string]interface{}{"key": key})
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.AuthAttemptsTotal.WithLabelValues("password", "success").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{...}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
