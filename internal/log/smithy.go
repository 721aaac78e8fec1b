package log

import (
	"context"
	"fmt"

	"github.com/aws/smithy-go/logging"
)

// SmithyLogger adapts a Logger to the AWS SDK's logging.Logger so SDK
// retry/request logs flow through the same handler as ours.
type SmithyLogger struct {
	L   Logger
	Ctx context.Context
}

var _ logging.ContextLogger = SmithyLogger{}

func (s SmithyLogger) Logf(classification logging.Classification, format string, v ...any) {
	ctx := s.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.emit(ctx, classification, fmt.Sprintf(format, v...))
}

// WithContext lets the SDK hand us the per-operation context (trace ids).
func (s SmithyLogger) WithContext(ctx context.Context) logging.Logger {
	return SmithyLogger{L: s.L, Ctx: ctx}
}

func (s SmithyLogger) emit(ctx context.Context, c logging.Classification, msg string) {
	l := s.L
	if l == nil {
		return
	}
	switch c {
	case logging.Warn:
		l.Warn(ctx, msg, "logger", "aws-sdk")
	default:
		l.Debug(ctx, msg, "logger", "aws-sdk")
	}
}
