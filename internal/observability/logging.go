// Package observability bundles the logger and tracer bootstrap shared by
// every cmd/ entrypoint, following the teacher's per-service setup of a
// single *zap.Logger passed down through constructors.
package observability

import "go.uber.org/zap"

// NewLogger builds the process-wide structured logger: zap's development
// config when dev is true, its production config otherwise. cmd/mcp-server
// passes dev unless ENV=production.
func NewLogger(serviceName string, dev bool) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", serviceName)), nil
}
