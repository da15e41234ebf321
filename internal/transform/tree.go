package transform

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// node is a position in the parsed payload. An empty node behaves like an
// empty object, so lookups below a missing parent just yield defaults.
type node struct {
	path string
	v    gjson.Result
}

func (n node) field(key string) string {
	if n.path == "" {
		return key
	}
	return n.path + "." + key
}

// decoder walks one payload and collects field-level anomalies.
type decoder struct {
	loc       *time.Location
	anomalies Anomalies
}

func (d *decoder) flag(field, reason string) {
	d.anomalies = append(d.anomalies, &MalformedDataError{Field: field, Reason: reason})
}

func (d *decoder) get(n node, key string) gjson.Result {
	if !n.v.IsObject() {
		return gjson.Result{}
	}
	return n.v.Get(key)
}

func (d *decoder) object(n node, key string) node {
	v := d.get(n, key)
	out := node{path: n.field(key)}
	switch {
	case v.Type == gjson.Null:
	case v.IsObject():
		out.v = v
	default:
		d.flag(out.path, "want object, got "+kind(v))
	}
	return out
}

func (d *decoder) list(n node, key string) []gjson.Result {
	v := d.get(n, key)
	switch {
	case v.Type == gjson.Null:
		return nil
	case v.IsArray():
		return v.Array()
	}
	d.flag(n.field(key), "want list, got "+kind(v))
	return nil
}

func (d *decoder) str(n node, key string) string {
	v := d.get(n, key)
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number, gjson.True, gjson.False:
		return v.Raw
	case gjson.JSON:
		d.flag(n.field(key), "want string, got "+kind(v))
	}
	return ""
}

func (d *decoder) integer(n node, key string, def int) int {
	v := d.get(n, key)
	switch v.Type {
	case gjson.Null:
		return def
	case gjson.Number:
		return int(v.Int())
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return def
		}
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
	}
	d.flag(n.field(key), "want integer, got "+kind(v))
	return def
}

func (d *decoder) boolean(n node, key string) bool {
	v := d.get(n, key)
	switch v.Type {
	case gjson.True:
		return true
	case gjson.False, gjson.Null:
		return false
	case gjson.Number:
		return v.Float() != 0
	case gjson.String:
		b, err := strconv.ParseBool(strings.TrimSpace(v.Str))
		if err == nil {
			return b
		}
	}
	d.flag(n.field(key), "want bool, got "+kind(v))
	return false
}

func (d *decoder) float(n node, key string) *float64 {
	v := d.get(n, key)
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.Number:
		f := v.Float()
		return &f
	case gjson.String:
		if strings.TrimSpace(v.Str) == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
			return &f
		}
	}
	d.flag(n.field(key), "want number, got "+kind(v))
	return nil
}

// money parses cash-cycle amounts; anything unusable becomes zero.
func (d *decoder) money(n node, key string) decimal.Decimal {
	v := d.get(n, key)
	var raw string
	switch v.Type {
	case gjson.Null:
		return decimal.Zero
	case gjson.Number:
		raw = v.Raw
	case gjson.String:
		raw = strings.TrimSpace(v.Str)
		if raw == "" {
			return decimal.Zero
		}
	default:
		d.flag(n.field(key), "want amount, got "+kind(v))
		return decimal.Zero
	}
	amt, err := decimal.NewFromString(raw)
	if err != nil {
		d.flag(n.field(key), "not a number: "+raw)
		return decimal.Zero
	}
	return amt
}

func (d *decoder) timestamp(n node, key string) *time.Time {
	return d.timeValue(n.field(key), d.get(n, key))
}

func (d *decoder) timeValue(field string, v gjson.Result) *time.Time {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.Number:
		if v.Int() == 0 {
			return nil
		}
		t := time.UnixMilli(v.Int()).In(d.loc)
		return &t
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return nil
		}
		if t, ok := parseTime(s, d.loc); ok {
			return &t
		}
		d.flag(field, "unparseable time "+strconv.Quote(s))
		return nil
	}
	d.flag(field, "want time, got "+kind(v))
	return nil
}

func kind(v gjson.Result) string {
	switch {
	case v.IsArray():
		return "list"
	case v.IsObject():
		return "object"
	}
	switch v.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "bool"
	}
	return "null"
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// naive layouts are interpreted in the business zone.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTime(s string, loc *time.Location) (time.Time, bool) {
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.In(loc), true
		}
	}
	for _, l := range naiveLayouts {
		if t, err := time.ParseInLocation(l, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
