package model

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"sync"
)

// Extra holds the keys of a shared document that this service does not model.
// They are written back untouched so the executor's own fields survive a rewrite.
type Extra map[string]json.RawMessage

var knownKeys sync.Map // reflect.Type -> map[string]struct{}

// jsonKeys returns the json names declared by the struct type t
func jsonKeys(t reflect.Type) map[string]struct{} {
	if keys, ok := knownKeys.Load(t); ok {
		return keys.(map[string]struct{})
	}
	keys := map[string]struct{}{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = f.Name
		}
		keys[name] = struct{}{}
	}
	knownKeys.Store(t, keys)
	return keys
}

// decodeWithExtra unmarshals data into v, a pointer to a struct, and returns
// the keys v does not declare
func decodeWithExtra(data []byte, v any) (Extra, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	known := jsonKeys(reflect.TypeOf(v).Elem())
	var extra Extra
	for k, val := range raw {
		if _, ok := known[k]; ok {
			continue
		}
		if extra == nil {
			extra = Extra{}
		}
		extra[k] = val
	}
	return extra, nil
}

// encodeWithExtra marshals v and merges extra into the resulting object.
// Declared fields win over extra keys of the same name.
func encodeWithExtra(v any, extra Extra) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if _, ok := out[k]; !ok {
			out[k] = val
		}
	}
	return json.Marshal(out)
}

// Percent is a 0..100 progress value. The executor may write fractions,
// which are rounded; out of range values are clamped.
type Percent int

// ClampPercent rounds p into 0..100
func ClampPercent(p float64) Percent {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return Percent(math.Round(p))
}

// UnmarshalJSON accepts any JSON number or numeric string. Anything else
// reads as 0 so one odd value cannot make a whole document unreadable.
func (p *Percent) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		var s string
		if json.Unmarshal(data, &s) != nil || json.Unmarshal([]byte(strings.TrimSpace(s)), &f) != nil {
			f = 0
		}
	}
	*p = ClampPercent(f)
	return nil
}
