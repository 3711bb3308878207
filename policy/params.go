package policy

import (
	"math"
)

// Params holds assertion-specific parameters
type Params map[string]interface{}

// Get retrieves a parameter
func (p Params) Get(key string) (interface{}, bool) {
	v, ok := p[key]
	return v, ok
}

// GetString retrieves a string parameter
func (p Params) GetString(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetStringOr retrieves a string parameter or a fallback
func (p Params) GetStringOr(key, fallback string) string {
	if s, ok := p.GetString(key); ok && s != "" {
		return s
	}
	return fallback
}

// GetBool retrieves a bool parameter
func (p Params) GetBool(key string) (bool, bool) {
	v, ok := p[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetInt retrieves an integer parameter. Decoders produce different numeric
// types, all of which are accepted when they hold a whole number.
func (p Params) GetInt(key string) (int, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// GetStrings retrieves a string list parameter
func (p Params) GetStrings(key string) ([]string, bool) {
	v, ok := p[key]
	if !ok {
		return nil, false
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Clone returns a shallow copy
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	c := make(Params, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}
