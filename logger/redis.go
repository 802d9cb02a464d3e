package logger

import (
	"context"
	"fmt"
)

// RedisLogger adapts a Logger to the go-redis internal logging interface.
type RedisLogger struct {
	logger Logger
}

// ToRedis returns a value suitable for redis.SetLogger. go-redis only logs
// connection-level problems (dial failures, pool issues) so everything is
// emitted at warn.
func ToRedis(logger Logger) *RedisLogger {
	return &RedisLogger{logger: WithKV(logger, "component", "redis")}
}

func (r *RedisLogger) Printf(ctx context.Context, format string, v ...interface{}) {
	r.logger.Warn("%s", fmt.Sprintf(format, v...))
}
