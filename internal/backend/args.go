package backend

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QueryArg is one named query parameter. Args are ordered so query strings
// are deterministic.
type QueryArg struct {
	Name  string
	Value interface{}
}

// QueryArgs is the ordered parameter list for a named query.
type QueryArgs []QueryArg

// NewQueryArgs builds an empty argument list.
func NewQueryArgs() QueryArgs {
	return QueryArgs{}
}

// With appends a named argument and returns the list for chaining.
func (a QueryArgs) With(name string, value interface{}) QueryArgs {
	return append(a, QueryArg{Name: name, Value: value})
}

// formatValue renders an argument in the backend wire form. String slices
// join with commas, timestamps use a quoted SQL datetime, everything else
// uses its natural string form. Returns ok=false for nil values, which are
// omitted from the request entirely.
func formatValue(value interface{}) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []string:
		return strings.Join(v, ","), true
	case time.Time:
		return "'" + v.UTC().Format("2006-01-02 15:04:05") + "'", true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
