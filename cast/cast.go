// Package cast coerces values between the representation a backend stores
// (storedType) and the logical type the engine presents to clients (spec
// §4.1). It is the lowest-level leaf package in the engine: it imports
// nothing else in this module.
package cast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Type is a logical attribute type as presented to clients.
type Type string

const (
	TypeString   Type = "string"
	TypeInt      Type = "int"
	TypeFloat    Type = "float"
	TypeBoolean  Type = "boolean"
	TypeDate     Type = "date"
	TypeDatetime Type = "datetime"
	TypeTime     Type = "time"
	TypeUnixtime Type = "unixtime"
	TypeRaw      Type = "raw"
	TypeObject   Type = "object"
	TypeJSON     Type = "json"
)

// StoredType describes how a value is physically stored, independent of the
// logical Type above (e.g. a datetime stored with a specific timezone, or an
// object stored pre-serialized as JSON).
type StoredType struct {
	Type    string
	Options map[string]string
}

// Timezone returns the storedType's configured timezone, falling back to
// the engine default: storedType.options.timezone, else engine-config
// defaultStoredTimezone or timezone, else UTC.
func (st StoredType) Timezone(engineDefault *time.Location) *time.Location {
	if st.Options != nil {
		if tz, ok := st.Options["timezone"]; ok && tz != "" {
			if loc, err := time.LoadLocation(tz); err == nil {
				return loc
			}
		}
	}
	if engineDefault != nil {
		return engineDefault
	}
	return time.UTC
}

// Options bundles the per-attribute cast configuration: the leaf
// attribute node fields relevant to coercion.
type Options struct {
	Type          Type
	StoredType    StoredType
	MultiValued   bool
	Delimiter     string
	EngineTZ      *time.Location
	OutputTZ      *time.Location
}

// zeroDatePrefixes catches MySQL-style zero dates ("0000-00-00..."),
// which coerce to null.
var zeroDatePrefixes = []string{"0000-00-00", "0000-00-00 00:00:00"}

// Value coerces v according to opts, in order: delimiter-split, then
// multiValued wrapping, then the scalar coercion rules per logical Type.
func Value(v any, opts Options) any {
	if opts.Delimiter != "" {
		if s, ok := v.(string); ok {
			parts := strings.Split(s, opts.Delimiter)
			out := make([]any, 0, len(parts))
			for _, p := range parts {
				out = append(out, scalar(p, opts))
			}
			return out
		}
	}

	if opts.MultiValued {
		if v == nil {
			return []any{}
		}
		if list, ok := asSlice(v); ok {
			out := make([]any, 0, len(list))
			for _, item := range list {
				out = append(out, scalar(item, opts))
			}
			return out
		}
		return []any{scalar(v, opts)}
	}

	return scalar(v, opts)
}

func asSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case nil:
		return nil, false
	default:
		return nil, false
	}
}

func scalar(v any, opts Options) any {
	switch opts.Type {
	case TypeBoolean:
		return toBoolean(v)
	case TypeInt:
		return toInt(v)
	case TypeFloat:
		return toFloat(v)
	case TypeString:
		return toString(v)
	case TypeDate:
		return toTemporal(v, opts, "date")
	case TypeDatetime:
		return toTemporal(v, opts, "datetime")
	case TypeTime:
		return toTemporal(v, opts, "time")
	case TypeUnixtime:
		return toUnixtime(v, opts)
	case TypeObject:
		return toObject(v, opts)
	case TypeJSON:
		return toJSON(v, opts)
	case TypeRaw:
		return v
	default:
		return v
	}
}

// toBoolean treats the string "0" as false; everything else follows
// truthiness (empty string is false).
func toBoolean(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		if t == "0" || t == "" {
			return false
		}
		return true
	case int, int32, int64:
		return toInt(t) != 0
	case float32, float64:
		return toFloat(t) != 0
	default:
		return true
	}
}

func toInt(v any) any {
	switch t := v.(type) {
	case nil:
		return math.NaN()
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float32:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return math.NaN()
		}
		return n
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return math.NaN()
	}
}

func toFloat(v any) any {
	switch t := v.(type) {
	case nil:
		return math.NaN()
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// toString forces any value to string form; []byte inputs are decoded as
// UTF-8.
func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04:05"
	timeLayout     = "15:04:05"
)

func storedLayout(kind string) string {
	switch kind {
	case "date":
		return dateLayout
	case "time":
		return timeLayout
	default:
		return datetimeLayout
	}
}

func isZeroDateLike(s string) bool {
	for _, prefix := range zeroDatePrefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// parseStored parses v into a time.Time in the storedType's timezone. It
// returns (zero, false) when the value cannot be parsed or is a zero date:
// date-family types coerce to null on parse failure.
func parseStored(v any, opts Options) (time.Time, bool) {
	tz := opts.StoredType.Timezone(opts.EngineTZ)

	if opts.StoredType.Type == "unixtime" {
		secs, ok := unixSeconds(v)
		if !ok {
			return time.Time{}, false
		}
		return time.Unix(secs, 0).In(tz), true
	}

	s := toString(v)
	if s == "" || isZeroDateLike(s) {
		return time.Time{}, false
	}

	// Try the three canonical layouts regardless of target type, since a
	// storedType may hold more precision than the logical type exposes
	// (e.g. a "date" column that is physically a full datetime string).
	for _, layout := range []string{datetimeLayout, dateLayout, timeLayout, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, tz); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func unixSeconds(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// toTemporal re-emits a parsed value as ISO-8601 in the engine's output
// timezone: datetime emits the full string, date the first 10 characters,
// time the substring from index 11.
func toTemporal(v any, opts Options, kind string) any {
	t, ok := parseStored(v, opts)
	if !ok {
		return nil
	}

	outTZ := opts.OutputTZ
	if outTZ == nil {
		outTZ = time.UTC
	}
	t = t.In(outTZ)

	full := t.Format("2006-01-02T15:04:05.000Z07:00")
	switch kind {
	case "date":
		return full[:10]
	case "time":
		return full[11:]
	default:
		return full
	}
}

// toUnixtime parses via the datetime rules, then emits integer seconds
// since epoch, floored.
func toUnixtime(v any, opts Options) any {
	t, ok := parseStored(v, opts)
	if !ok {
		return nil
	}
	return t.Unix()
}

func toObject(v any, opts Options) any {
	switch opts.StoredType.Type {
	case "json":
		s := toString(v)
		if s == "" {
			return nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			log.WithError(err).Warn("cast: failed to parse stored JSON as object")
			return nil
		}
		return out
	case "object":
		return v
	default:
		log.WithField("storedType", opts.StoredType.Type).Warn("cast: object target requires storedType json or object")
		return nil
	}
}

func toJSON(v any, opts Options) any {
	if opts.StoredType.Type == "json" {
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Warn("cast: failed to serialize value to JSON")
		return nil
	}
	return string(b)
}

// ParseStoredType parses the "name(k=v;k=v)" syntax used by config options
// to describe a storedType.
func ParseStoredType(raw string) StoredType {
	raw = strings.TrimSpace(raw)
	open := strings.IndexByte(raw, '(')
	if open == -1 || !strings.HasSuffix(raw, ")") {
		return StoredType{Type: raw}
	}

	name := raw[:open]
	body := raw[open+1 : len(raw)-1]

	opts := map[string]string{}
	for _, pair := range strings.Split(body, ";") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		opts[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}

	return StoredType{Type: name, Options: opts}
}

// BytesToUTF8 decodes a byte buffer defensively, for callers that receive
// raw driver output (e.g. blob columns) ahead of calling Value.
func BytesToUTF8(b []byte) string {
	if !bytes.ContainsRune(b, '�') {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "")
}
