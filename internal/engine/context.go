package engine

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Context is the flat field map rules are evaluated against, e.g.
// action, success, statusCode, originalPrice, currentPrice, errorRate,
// duration (milliseconds) and category.
type Context map[string]any

func (c Context) clone() Context {
	out := make(Context, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	return out
}

func (c Context) String(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case interface{ String() string }:
		return v.String()
	}
	if rv := reflect.ValueOf(c[key]); rv.Kind() == reflect.String {
		return rv.String()
	}
	return ""
}

func (c Context) Bool(key string) (bool, bool) {
	switch v := c[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	}
	return false, false
}

// Float reads any numeric field. Durations are reported in milliseconds.
func (c Context) Float(key string) (float64, bool) {
	switch v := c[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case time.Duration:
		return float64(v.Milliseconds()), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func (c Context) failed() bool {
	ok, present := c.Bool("success")
	return present && !ok
}

func (c Context) actionContains(sub string) bool {
	return strings.Contains(strings.ToLower(c.String("action")), sub)
}
