package sqlbridge

import (
	"strconv"
	"strings"

	"github.com/sakif/userauth/internal/sqlpool"
)

// dialect captures the few places where engines disagree on SQL the
// bridge itself has to issue or rewrite.
type dialect struct {
	engine string

	// dollarParams: the engine wants $1, $2... instead of ?.
	dollarParams bool

	// lastInsertID: sql.Result.LastInsertId is meaningful.
	lastInsertID bool

	// backslashEscapes: \ escapes the next byte inside quotes (MySQL's
	// default sql_mode), so 'it\'s' is one literal.
	backslashEscapes bool

	// tableExists takes the table name as its only parameter.
	tableExists string
}

func dialectFor(engine string) dialect {
	switch engine {
	case sqlpool.EngineMySQL:
		return dialect{
			engine:           engine,
			lastInsertID:     true,
			backslashEscapes: true,
			tableExists: `SELECT 1 FROM information_schema.tables
				WHERE table_schema = DATABASE() AND table_name = ?`,
		}
	case sqlpool.EnginePostgres:
		// Unquoted identifiers are folded to lower case by Postgres.
		return dialect{
			engine:       engine,
			dollarParams: true,
			tableExists: `SELECT 1 FROM information_schema.tables
				WHERE table_schema = current_schema() AND table_name = lower(?)`,
		}
	default:
		return dialect{
			engine:       sqlpool.EngineSQLite,
			lastInsertID: true,
			tableExists:  `SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`,
		}
	}
}

// scanPlaceholders walks query and calls fn with the byte offset of every
// ? that is not inside a quoted string, quoted identifier or comment.
// It returns the number of placeholders found.
func (d dialect) scanPlaceholders(query string, fn func(offset int)) int {
	n := 0
	for i := 0; i < len(query); i++ {
		switch c := query[i]; c {
		case '\'', '"', '`':
			// A doubled quote ('') closes and reopens, which is the same
			// as staying inside the literal.
			end := d.closingQuote(query, i+1, c)
			if end < 0 {
				return n
			}
			i = end
		case '-':
			if i+1 < len(query) && query[i+1] == '-' {
				end := strings.IndexByte(query[i:], '\n')
				if end < 0 {
					return n
				}
				i += end
			}
		case '/':
			if i+1 < len(query) && query[i+1] == '*' {
				end := strings.Index(query[i+2:], "*/")
				if end < 0 {
					return n
				}
				i += end + 3
			}
		case '?':
			if fn != nil {
				fn(i)
			}
			n++
		}
	}
	return n
}

// closingQuote returns the offset of the quote byte q that ends a quoted
// run starting at from, or -1 when the run is unterminated.
func (d dialect) closingQuote(query string, from int, q byte) int {
	for i := from; i < len(query); i++ {
		switch query[i] {
		case q:
			return i
		case '\\':
			if d.backslashEscapes && q != '`' {
				i++
			}
		}
	}
	return -1
}

func (d dialect) countPlaceholders(query string) int {
	return d.scanPlaceholders(query, nil)
}

// rebind rewrites ? placeholders into the engine's native form.
func (d dialect) rebind(query string) string {
	if !d.dollarParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	last, n := 0, 0
	d.scanPlaceholders(query, func(off int) {
		n++
		b.WriteString(query[last:off])
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
		last = off + 1
	})
	b.WriteString(query[last:])
	return b.String()
}
