package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// sqlLogger writes executed statements at debug level when enabled.
type sqlLogger struct {
	enabled bool
	logger  *slog.Logger
}

func newSQLLogger(enabled bool, logger *slog.Logger) *sqlLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &sqlLogger{enabled: enabled, logger: logger}
}

// logQuery logs a SELECT. rowCount is -1 when rows are streamed.
func (l *sqlLogger) logQuery(ctx context.Context, query string, args []any, duration time.Duration, rowCount int) {
	if !l.enabled {
		return
	}
	l.logger.DebugContext(ctx, "sql query",
		"sql", formatQuery(query),
		"args", formatArgs(args),
		"duration_ms", float64(duration.Nanoseconds())/1e6,
		"rows", rowCount,
	)
}

// logExec logs an INSERT/UPDATE/DELETE with the affected row count.
func (l *sqlLogger) logExec(ctx context.Context, query string, args []any, duration time.Duration, result sql.Result) {
	if !l.enabled {
		return
	}
	rowsAffected := int64(-1)
	if result != nil {
		if affected, err := result.RowsAffected(); err == nil {
			rowsAffected = affected
		}
	}
	l.logger.DebugContext(ctx, "sql exec",
		"sql", formatQuery(query),
		"args", formatArgs(args),
		"duration_ms", float64(duration.Nanoseconds())/1e6,
		"rows", rowsAffected,
	)
}

func (l *sqlLogger) logError(ctx context.Context, query string, args []any, duration time.Duration, err error) {
	if !l.enabled {
		return
	}
	l.logger.DebugContext(ctx, "sql error",
		"sql", formatQuery(query),
		"args", formatArgs(args),
		"duration_ms", float64(duration.Nanoseconds())/1e6,
		"error", err,
	)
}

// formatQuery collapses whitespace for single-line output.
func formatQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	formatted := make([]string, 0, len(args))
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			formatted = append(formatted, fmt.Sprintf("%q", v))
		case nil:
			formatted = append(formatted, "NULL")
		default:
			formatted = append(formatted, fmt.Sprintf("%v", v))
		}
	}
	return "[" + strings.Join(formatted, ", ") + "]"
}
