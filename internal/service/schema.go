package service

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/sakif/userauth/internal/apperror"
	"github.com/sakif/userauth/internal/model"
	"github.com/sakif/userauth/internal/sqlbridge"
	"github.com/sakif/userauth/internal/sqlpool"
)

// Column names of the user table.
const (
	colUserID         = "user_id"
	colUsername       = "username"
	colPasswordHash   = "password_hash"
	colToken          = "token"
	colTokenExpiresAt = "token_expires_at"
)

// tokenWidth is the size of the token column. No stored token is longer.
const tokenWidth = 64

// identifierPattern is the only shape of table name the service will
// splice into SQL. Identifiers cannot be bound as parameters. The length
// cap leaves room for the index-name suffixes within the MySQL limit.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,47}$`)

func validateTable(name string) error {
	if !identifierPattern.MatchString(name) {
		return apperror.ValidationFailed("table",
			fmt.Sprintf("table name %q must be a plain SQL identifier", name))
	}
	return nil
}

// schema holds the statements for one user table on one engine. They are
// built once at construction, never per request.
type schema struct {
	create  string
	indexes []string

	selectByUsername string
	selectByToken    string
	selectByID       string
	insert           string
	rotate           string
}

func newSchema(engine, table string) schema {
	var idColumn string
	switch engine {
	case sqlpool.EngineMySQL:
		idColumn = "BIGINT PRIMARY KEY AUTO_INCREMENT"
	case sqlpool.EnginePostgres:
		idColumn = "BIGSERIAL PRIMARY KEY"
	default:
		idColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	columns := fmt.Sprintf("%s, %s, %s, %s, %s",
		colUserID, colUsername, colPasswordHash, colToken, colTokenExpiresAt)

	insert := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s) VALUES (?, ?, ?, ?)",
		table, colUsername, colPasswordHash, colToken, colTokenExpiresAt)
	if engine == sqlpool.EnginePostgres {
		// No LastInsertId on Postgres; ask for the key explicitly.
		insert += " RETURNING " + colUserID
	}

	return schema{
		create: fmt.Sprintf(`CREATE TABLE %s (
	%s %s,
	%s VARCHAR(64) NOT NULL,
	%s VARCHAR(255) NOT NULL,
	%s VARCHAR(%d),
	%s BIGINT NOT NULL DEFAULT 0
)`, table, colUserID, idColumn, colUsername, colPasswordHash, colToken, tokenWidth, colTokenExpiresAt),
		indexes: []string{
			fmt.Sprintf("CREATE UNIQUE INDEX %s_username_uindex ON %s (%s)", table, table, colUsername),
			fmt.Sprintf("CREATE INDEX %s_token_index ON %s (%s)", table, table, colToken),
		},

		selectByUsername: fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", columns, table, colUsername),
		selectByToken:    fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", columns, table, colToken),
		selectByID:       fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", columns, table, colUserID),
		insert:           insert,

		// Guarded on the expiry we observed: if another login rotated the
		// token first, this matches no row.
		rotate: fmt.Sprintf("UPDATE %s SET %s = ?, %s = ? WHERE %s = ? AND %s = ?",
			table, colToken, colTokenExpiresAt, colUserID, colTokenExpiresAt),
	}
}

var errMalformedRow = errors.New("service/user: malformed user row")

// credentialsFrom reads a user row. NULL token and expiry read as "" and
// 0 (a user with no token yet).
func credentialsFrom(rec sqlbridge.Record) (*model.Credentials, error) {
	get := func(col string) (sqlbridge.Value, error) {
		v, ok := rec.Get(col)
		if !ok {
			return sqlbridge.Null, fmt.Errorf("%w: column %s missing", errMalformedRow, col)
		}
		return v, nil
	}

	idVal, err := get(colUserID)
	if err != nil {
		return nil, err
	}
	id, ok := idVal.Int64()
	if !ok {
		return nil, fmt.Errorf("%w: user_id %q is not an integer", errMalformedRow, idVal.String())
	}

	username, err := get(colUsername)
	if err != nil {
		return nil, err
	}
	hash, err := get(colPasswordHash)
	if err != nil {
		return nil, err
	}
	token, err := get(colToken)
	if err != nil {
		return nil, err
	}

	expVal, err := get(colTokenExpiresAt)
	if err != nil {
		return nil, err
	}
	var expires int64
	if !expVal.IsNull() {
		if expires, ok = expVal.Int64(); !ok {
			return nil, fmt.Errorf("%w: token_expires_at %q is not an integer", errMalformedRow, expVal.String())
		}
	}

	return &model.Credentials{
		User: model.User{
			ID:             id,
			Username:       username.String(),
			Token:          token.String(),
			TokenExpiresAt: expires,
		},
		PasswordHash: hash.String(),
	}, nil
}
