package ports

import "context"

// Logger is the structured logger every component receives at construction.
// Fields are passed as a single optional map.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs err alongside msg at Error level.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
