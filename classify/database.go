package classify

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLSTATE class prefixes and codes that matter for retry decisions. Both
// drivers the module supports (pgx and lib/pq) surface the same five-byte
// codes, so the tables are shared.
var transientSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement_timeout)
	"57P03": true, // cannot_connect_now
	"53300": true, // too_many_connections
	"53400": true, // configuration_limit_exceeded
}

var permanentSQLStateClasses = map[string]bool{
	"22": true, // data exception
	"23": true, // integrity constraint violation
	"3D": true, // invalid catalog name
	"3F": true, // invalid schema name
	"42": true, // syntax error or access rule violation
}

// ClassifyDatabase maps storage-engine failures onto categories using
// SQLSTATE codes rather than message text. Connection loss and conflict
// errors are transient; constraint and schema errors are permanent.
func ClassifyDatabase(err error) Category {
	if err == nil {
		return Unknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) ||
		errors.Is(err, driver.ErrBadConn) {
		return Transient
	}
	if errors.Is(err, sql.ErrNoRows) {
		return Permanent
	}

	if code, ok := sqlState(err); ok {
		return classifySQLState(code)
	}

	// Pool-level failures from the driver carry no SQLSTATE.
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "connection reset") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "unexpected eof") ||
		strings.Contains(s, "conn closed") {
		return Transient
	}
	if strings.Contains(s, "timeout") {
		return Timeout
	}

	return Unknown
}

func sqlState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	return "", false
}

func classifySQLState(code string) Category {
	if transientSQLStates[code] {
		if code == "57014" {
			return Timeout
		}
		return Transient
	}
	if len(code) >= 2 {
		if code[:2] == "08" { // connection exception
			return Transient
		}
		if permanentSQLStateClasses[code[:2]] {
			return Permanent
		}
	}
	return Unknown
}

// IsDatabaseTransient reports whether err is safe to retry against the database.
func IsDatabaseTransient(err error) bool {
	cat := ClassifyDatabase(err)
	return cat == Transient || cat == Timeout
}

// IsDatabasePermanent reports whether retrying err against the database is pointless.
func IsDatabasePermanent(err error) bool {
	return ClassifyDatabase(err) == Permanent
}
