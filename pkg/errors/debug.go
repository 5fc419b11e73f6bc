package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const maxChainDepth = 8

type pgDiagnostics struct {
	code       string
	constraint string
	table      string
	detail     string
}

// LogFields flattens err into structured log fields: the message, the typed
// code, the unwrap chain and any Postgres diagnostics found along it.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	code := CodeOf(err)
	fields := map[string]any{
		"error":       err.Error(),
		"error_code":  code,
		"error_chain": chain(err),
		"retryable":   MetadataFor(code).Retryable,
	}
	if diag, ok := postgresDiagnostics(err); ok {
		fields["pg_code"] = diag.code
		if diag.constraint != "" {
			fields["pg_constraint"] = diag.constraint
		}
		if diag.table != "" {
			fields["pg_table"] = diag.table
		}
		if diag.detail != "" {
			fields["pg_detail"] = diag.detail
		}
	}
	return fields
}

func chain(err error) []string {
	var out []string
	for e := err; e != nil && len(out) < maxChainDepth; e = errors.Unwrap(e) {
		out = append(out, fmt.Sprintf("%T", e))
	}
	return out
}

// gorm surfaces pgx errors from the postgres driver; lib/pq errors come from
// the raw sql.DB used by migrations.
func postgresDiagnostics(err error) (pgDiagnostics, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgDiagnostics{
			code:       pgxErr.Code,
			constraint: pgxErr.ConstraintName,
			table:      pgxErr.TableName,
			detail:     pgxErr.Detail,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgDiagnostics{
			code:       string(pqErr.Code),
			constraint: pqErr.Constraint,
			table:      pqErr.Table,
			detail:     pqErr.Detail,
		}, true
	}
	return pgDiagnostics{}, false
}
