package ndwutil

import "go.uber.org/zap"

// NewProductionLogger returns a production zap logger (JSON, info level).
func NewProductionLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

// NewDevelopmentLogger returns a development zap logger (human-readable, debug level).
func NewDevelopmentLogger() (*zap.Logger, error) {
	return zap.NewDevelopment()
}
