// Package logging provides structured logging for collectiond.
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout/stderr + OpenTelemetry log bridge)
//   - Automatic context field injection (trace_id, owner_id, request_id)
//   - Level-aware sampling (errors never sampled)
//
// Components below the transport layer take a plain *zap.Logger; use
// Logger.Underlying to hand one to them.
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = tenant.WithPrincipal(ctx, "user1")
//	logger.Info(ctx, "collection created", zap.String("collection_id", id))
package logging
