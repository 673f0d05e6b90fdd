package node

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/ezex-io/flowrt/logger"
	"github.com/ezex-io/flowrt/packet"
)

// ParamKind is the declared type of a node parameter, used to coerce a
// resolved reference value before it is applied.
type ParamKind string

const (
	KindString ParamKind = "string"
	KindInt    ParamKind = "int"
	KindFloat  ParamKind = "float"
	KindBool   ParamKind = "bool"
	KindList   ParamKind = "list"
	KindMap    ParamKind = "map"
	KindStruct ParamKind = "struct"
)

// Binding describes a parameter bound to a live value carried by an upstream
// node's latest packet, parsed from an `@ref:<upstream>.<segment>...` string.
type Binding struct {
	Upstream     string
	Path         []string
	DeclaredType ParamKind
}

var refPattern = regexp.MustCompile(`^@ref:([\w.]+)$`)

// ParseBinding recognizes the @ref: prefix and splits the path into its
// upstream node name and dotted segments. Returns false if raw is not a
// reference.
func ParseBinding(raw string, declared ParamKind) (Binding, bool) {
	m := refPattern.FindStringSubmatch(raw)
	if m == nil {
		return Binding{}, false
	}

	segments := strings.Split(m[1], ".")

	return Binding{
		Upstream:     segments[0],
		Path:         segments[1:],
		DeclaredType: declared,
	}, true
}

// Resolve walks p according to b.Path. The first path segment selects
// content, metadata, or a top-level packet field; remaining segments descend
// maps, slices, and struct fields.
func Resolve(b Binding, p packet.Packet) (any, bool) {
	if len(b.Path) == 0 {
		return nil, false
	}

	root, ok := rootField(p, b.Path[0])
	if !ok {
		return nil, false
	}

	return walk(root, b.Path[1:])
}

func rootField(p packet.Packet, field string) (any, bool) {
	switch field {
	case "content":
		return p.Content, true
	case "metadata":
		return p.Metadata, true
	case "data_type":
		return string(p.DataType), true
	case "format":
		return string(p.Format), true
	case "category":
		return string(p.Category), true
	case "lifecycle_state":
		return string(p.LifecycleState), true
	case "sensitivity":
		return string(p.Sensitivity), true
	case "source":
		return string(p.Source), true
	case "timestamp":
		return p.Timestamp, true
	case "sequence_id":
		if p.SequenceID == nil {
			return nil, false
		}

		return *p.SequenceID, true
	case "processing_chain":
		return p.ProcessingChain, true
	default:
		return nil, false
	}
}

func walk(cur any, path []string) (any, bool) {
	for _, seg := range path {
		switch v := cur.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			rv := reflect.ValueOf(cur)
			if rv.Kind() == reflect.Ptr {
				rv = rv.Elem()
			}
			if rv.Kind() != reflect.Struct {
				return nil, false
			}

			f := rv.FieldByNameFunc(func(name string) bool {
				return strings.EqualFold(name, seg)
			})
			if !f.IsValid() {
				return nil, false
			}
			cur = f.Interface()
		}
	}

	return cur, true
}

// Coerce converts v to the shape kind expects. On failure it reports false;
// the caller must retain the previous parameter value and log a warning
// rather than apply the raw value.
func Coerce(v any, kind ParamKind) (any, bool) {
	switch kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, true
		}

		return nil, false
	case KindInt:
		return coerceInt(v)
	case KindFloat:
		return coerceFloat(v)
	case KindBool:
		b, ok := v.(bool)

		return b, ok
	case KindList:
		l, ok := v.([]any)

		return l, ok
	case KindMap:
		var m map[string]any
		if err := mapstructure.Decode(v, &m); err != nil {
			return nil, false
		}

		return m, true
	case KindStruct:
		return v, true
	default:
		return nil, false
	}
}

func coerceInt(v any) (any, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case int8:
		return int(t), true
	case int16:
		return int(t), true
	case int32:
		return int(t), true
	case uint8:
		return int(t), true
	case uint16:
		return int(t), true
	case uint32:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return nil, false
		}

		return n, true
	default:
		return nil, false
	}
}

func coerceFloat(v any) (any, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, false
		}

		return f, true
	default:
		return nil, false
	}
}

// ApplyBinding resolves binding against latest and, on success, calls set
// with the coerced value. On any failure it logs a warning and leaves the
// previous parameter value untouched.
func ApplyBinding(paramName string, binding Binding, latest packet.Packet, set func(any)) {
	raw, ok := Resolve(binding, latest)
	if !ok {
		logger.Warn("node: reference could not be resolved, retaining previous value",
			"param", paramName, "upstream", binding.Upstream)

		return
	}

	coerced, ok := Coerce(raw, binding.DeclaredType)
	if !ok {
		logger.Warn("node: reference coercion failed, retaining previous value",
			"param", paramName, "upstream", binding.Upstream, "declared_type", binding.DeclaredType)

		return
	}

	set(coerced)
}
