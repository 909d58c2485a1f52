package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

var errWriterNotReady = errors.New("logger: writer not initialized")

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders one flat line per record: fixed keys first in
// keyOrder, the rest sorted. Groups become dotted key prefixes.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	prefix string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = append([]string(nil), defaultKeyOrder...)
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errWriterNotReady
	}

	e := make(entry, 16)
	ts := r.Time.UTC()
	e["ts"] = ts.Truncate(time.Millisecond).Format(timeFormatMillis)
	e["level"] = normalizeLevel(r.Level.String())
	if h.cfg.format == formatJSON {
		e["ts_unix_nano"] = ts.UnixNano()
	}
	for _, a := range h.attrs {
		e.add(h.prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		e.add(h.prefix, a)
		return true
	})
	e.addMeta(MetaFrom(ctx))
	e.finish(r.Message, h.cfg.format == formatJSON)

	line, err := e.encode(h.cfg.format, h.cfg.keyOrder)
	if err != nil {
		return err
	}
	return h.cfg.writer.Write(line)
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = joinKey(h.prefix, name)
	return &clone
}

// entry is the flattened field set of one record.
type entry map[string]any

func (e entry) add(prefix string, a slog.Attr) {
	key := joinKey(prefix, a.Key)
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, child := range v.Group() {
			e.add(key, child)
		}
		return
	}
	if key == "" {
		return
	}
	if k, val, ok := normalizeValue(key, v); ok {
		e[k] = val
	}
}

// addMeta fills correlation fields the record did not set explicitly.
func (e entry) addMeta(m Meta) {
	e.setDefault("rid", m.RID, m.RID != "")
	e.setDefault("update_id", m.UpdateID, m.UpdateID != 0)
	e.setDefault("user_id", m.UserID, m.UserID != 0)
	e.setDefault("chat_id", m.ChatID, m.ChatID != 0)
	e.setDefault("handler", m.Handler, m.Handler != "")
}

func (e entry) setDefault(key string, val any, present bool) {
	if !present {
		return
	}
	if _, ok := e[key]; !ok {
		e[key] = val
	}
}

func (e entry) finish(msg string, keepFullRID bool) {
	if rid := e.str("rid"); rid != "" {
		if compact := CompactRID(rid); compact != rid {
			if keepFullRID {
				e.setDefault("rid_full", rid, true)
			}
			e["rid"] = compact
		}
	}
	if e.str("event") == "" {
		e["event"] = msg
		if msg == "" {
			e["event"] = "unknown"
		}
	}
	if e.str("component") == "" {
		e["component"] = "app"
	}
	if s := e.str("status"); s != "" {
		e["status"] = normalizeStatus(s)
	}
	if o := e.str("outcome"); o != "" {
		if norm, ok := normalizeOutcome(o); ok {
			e["outcome"] = norm
		} else {
			delete(e, "outcome")
		}
	}
	for key := range sensitiveKeys {
		if v, ok := e[key].(string); ok && v != "" {
			e[key] = MaskSecret(v)
		}
	}
	for k, v := range e {
		if v == nil || v == "" {
			delete(e, k)
		}
	}
}

func (e entry) str(key string) string {
	switch v := e[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (e entry) encode(format logFormat, order []string) ([]byte, error) {
	var b bytes.Buffer
	if format == formatJSON {
		b.WriteByte('{')
	}
	for i, key := range orderedKeys(e, order) {
		if format == formatJSON {
			data, err := json.Marshal(e[key])
			if err != nil {
				return nil, fmt.Errorf("logger: encode %s: %w", key, err)
			}
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(key))
			b.WriteByte(':')
			b.Write(data)
			continue
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(kvValue(e[key]))
	}
	if format == formatJSON {
		b.WriteByte('}')
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func orderedKeys(e entry, order []string) []string {
	keys := make([]string, 0, len(e))
	seen := make(map[string]struct{}, len(order))
	for _, key := range order {
		if _, ok := e[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	fixed := len(keys)
	for key := range e {
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys[fixed:])
	return keys
}

func normalizeValue(key string, v slog.Value) (string, any, bool) {
	switch v.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(v.String()), true
	case slog.KindBool:
		return key, v.Bool(), true
	case slog.KindInt64:
		return key, v.Int64(), true
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, v.Uint64(), true
	case slog.KindFloat64:
		return key, v.Float64(), true
	case slog.KindDuration:
		return durationKey(key), RoundMS(v.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano), true
	}

	switch x := v.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case string:
		return key, strings.TrimSpace(x), true
	case time.Duration:
		return durationKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, fmt.Sprint(x), true
	}
}

// durationKey maps "duration" to "duration_ms" and "x" to "x_ms".
func durationKey(key string) string {
	if strings.HasSuffix(key, "_ms") {
		return key
	}
	return key + "_ms"
}

func kvValue(val any) string {
	var s string
	switch v := val.(type) {
	case string:
		s = v
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(v)
	default:
		s = fmt.Sprint(v)
	}
	if strings.IndexFunc(s, needsQuote) >= 0 {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(r rune) bool {
	return r <= ' ' || r == '=' || r == '"'
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}
