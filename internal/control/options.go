package control

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
	"github.com/nerrad567/gray-logic-devserver/internal/option"
)

// Request field names.
const (
	FieldOptionName   = "option-name"
	FieldStreamName   = "stream-name"
	FieldValue        = "value"
	FieldOptionValues = "option-values"
)

// setOption handles {"id": "set-option", "option-name", "stream-name"?, "value"}.
//
// The setter strategy runs first; the cached value only changes after it
// succeeds, so a rejected mutation leaves the option as it was.
func (r *Router) setOption(body flexible.Document) (Fields, *OptionChange, error) {
	name, err := requiredString(body, FieldOptionName)
	if err != nil {
		return nil, nil, err
	}
	streamName, err := optionalString(body, FieldStreamName)
	if err != nil {
		return nil, nil, err
	}
	raw, ok := body[FieldValue]
	if !ok {
		return nil, nil, malformed("missing '%s'", FieldValue)
	}
	value, ok := toFloat(raw)
	if !ok {
		return nil, nil, malformed("'%s' must be a finite number; got %v", FieldValue, raw)
	}

	o, err := r.registry.Find(name, streamName)
	if err != nil {
		return nil, nil, resolution(err)
	}

	err = o.Update(func(o *option.Option) error {
		if r.setter != nil {
			if err := safeCall(func() error { return r.setter.SetOption(o, value) }); err != nil {
				return err
			}
		}
		o.SetValue(value)
		return nil
	})
	if err != nil {
		return nil, nil, callbackFailed(err)
	}
	r.logger.Debug("option set", "option", name, "stream", streamName, "value", value)

	change := &OptionChange{
		Stream: streamName,
		Option: name,
		Value:  value,
		At:     time.Now().UTC(),
	}
	return Fields{FieldValue: value}, change, nil
}

// queryOption handles {"id": "query-option", "option-name", "stream-name"?}.
//
// option-name may be a string (single value), a non-empty list (values in
// order, failing on the first bad name) or an empty list (every option of
// the scope as a name->value map).
func (r *Router) queryOption(body flexible.Document) (Fields, error) {
	streamName, err := optionalString(body, FieldStreamName)
	if err != nil {
		return nil, err
	}
	raw, ok := body[FieldOptionName]
	if !ok {
		return nil, malformed("missing '%s'", FieldOptionName)
	}

	switch names := raw.(type) {
	case string:
		v, err := r.queryByName(names, streamName)
		if err != nil {
			return nil, err
		}
		return Fields{FieldValue: v}, nil

	case []string:
		items := make([]any, len(names))
		for i, n := range names {
			items[i] = n
		}
		return r.queryList(items, streamName)

	case []any:
		return r.queryList(names, streamName)

	default:
		return nil, malformed("option name should be a string; got %v", raw)
	}
}

func (r *Router) queryList(names []any, streamName string) (Fields, error) {
	if len(names) == 0 {
		return r.queryAll(streamName)
	}

	values := make([]any, 0, len(names))
	for _, item := range names {
		name, ok := item.(string)
		if !ok {
			return nil, malformed("option name should be a string; got %v", item)
		}
		v, err := r.queryByName(name, streamName)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return Fields{FieldValue: values}, nil
}

// queryAll returns every option of the scope. An unknown stream has no
// options and yields an empty map.
func (r *Router) queryAll(streamName string) (Fields, error) {
	opts, _ := r.registry.Options(streamName)

	values := make(map[string]any, len(opts))
	for _, o := range opts {
		v, err := r.readValue(o)
		if err != nil {
			return nil, err
		}
		values[o.Name()] = v
	}
	return Fields{FieldOptionValues: values}, nil
}

func (r *Router) queryByName(name, streamName string) (float64, error) {
	o, err := r.registry.Find(name, streamName)
	if err != nil {
		return 0, resolution(err)
	}
	return r.readValue(o)
}

// readValue returns the option value, refreshed through the querier when
// one is configured.
func (r *Router) readValue(o *option.Option) (float64, error) {
	if r.querier == nil {
		return o.Value(), nil
	}

	var v float64
	err := o.Update(func(o *option.Option) error {
		return safeCall(func() error {
			var err error
			v, err = r.querier.QueryOption(o)
			if err != nil {
				return err
			}
			if !finite(v) {
				return fmt.Errorf("device reported non-finite value %v for '%s'", v, o.Name())
			}
			o.SetValue(v)
			return nil
		})
	})
	if err != nil {
		return 0, callbackFailed(err)
	}
	return v, nil
}

func requiredString(body flexible.Document, key string) (string, error) {
	raw, ok := body[key]
	if !ok {
		return "", malformed("missing '%s'", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", malformed("'%s' must be a string; got %v", key, raw)
	}
	return s, nil
}

func optionalString(body flexible.Document, key string) (string, error) {
	raw, ok := body[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", malformed("'%s' must be a string; got %v", key, raw)
	}
	return s, nil
}

// toFloat converts any finite numeric document value to float64.
// JSON numbers arrive as float64, CBOR integers as int64 or uint64. CBOR can
// also carry NaN and infinities, which no JSON reply or discovery document
// can encode, so those are rejected.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, finite(n)
	case float32:
		return float64(n), finite(float64(n))
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && finite(f)
	default:
		return 0, false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
