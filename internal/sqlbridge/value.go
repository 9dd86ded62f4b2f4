package sqlbridge

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind tags the variant held by a Value.
type Kind uint8

// Value kinds. KindNull is the zero Kind.
const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is one column of a Record: NULL, a string, an integer or a float.
//
// The zero Value is NULL.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
}

// Null is the SQL NULL value.
var Null = Value{}

// StringValue wraps s.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// IntValue wraps i.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// FloatValue wraps f. NaN and infinities are kept as given.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is SQL NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// String returns the value in its string-serialized form. NULL renders
// as the empty string.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	}
	return ""
}

// Int64 interprets the value as an integer. Strings are parsed, floats
// are accepted only when they hold a whole number.
func (v Value) Int64() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if v.f == math.Trunc(v.f) && v.f >= math.MinInt64 && v.f < math.MaxInt64 {
			return int64(v.f), true
		}
	case KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Float64 interprets the value as a float.
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		return f, err == nil
	}
	return 0, false
}

// Any returns the value as nil, string, int64 or float64, suitable as a
// query parameter.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	}
	return nil
}

// MarshalJSON renders NULL as null and numbers as JSON numbers. NaN and
// infinities have no JSON number form and are written as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindFloat && (math.IsNaN(v.f) || math.IsInf(v.f, 0)) {
		return json.Marshal(v.String())
	}
	return json.Marshal(v.Any())
}

// intTypes and floatTypes are database type names (as reported by
// sql.ColumnType.DatabaseTypeName) whose text-encoded values should be
// typed on the way out. The MySQL text protocol hands every column back
// as []byte.
var (
	intTypes = map[string]bool{
		"INT": true, "INTEGER": true, "TINYINT": true, "SMALLINT": true,
		"MEDIUMINT": true, "BIGINT": true, "INT2": true, "INT4": true, "INT8": true,
		"UNSIGNED INT": true, "UNSIGNED BIGINT": true, "UNSIGNED TINYINT": true,
		"UNSIGNED SMALLINT": true, "UNSIGNED MEDIUMINT": true, "YEAR": true,
	}
	floatTypes = map[string]bool{
		"REAL": true, "FLOAT": true, "DOUBLE": true, "FLOAT4": true, "FLOAT8": true,
	}
)

// valueOf converts whatever the driver scanned into a Value. dbType is the
// column's database type name and may be empty.
func valueOf(src any, dbType string) Value {
	switch x := src.(type) {
	case nil:
		return Null
	case int64:
		return IntValue(x)
	case int32:
		return IntValue(int64(x))
	case int:
		return IntValue(int64(x))
	case uint64:
		if x <= math.MaxInt64 {
			return IntValue(int64(x))
		}
		return StringValue(strconv.FormatUint(x, 10))
	case float64:
		return FloatValue(x)
	case float32:
		return FloatValue(float64(x))
	case bool:
		if x {
			return IntValue(1)
		}
		return IntValue(0)
	case time.Time:
		return StringValue(x.UTC().Format(time.RFC3339Nano))
	case []byte:
		return typedText(string(x), dbType)
	case string:
		return typedText(x, dbType)
	}
	return StringValue(fmt.Sprint(src))
}

func typedText(s, dbType string) Value {
	dbType = strings.ToUpper(dbType)
	switch {
	case intTypes[dbType]:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return IntValue(n)
		}
	case floatTypes[dbType]:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return FloatValue(f)
		}
	}
	return StringValue(s)
}
