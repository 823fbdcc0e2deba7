package params

import "github.com/spf13/cast"

// Values holds normalized parameters. Values survive a JSON round trip through the
// job record, so getters coerce rather than type-assert.
type Values map[string]any

func (v Values) Has(name string) bool {
	raw, ok := v[name]
	return ok && raw != nil
}

func (v Values) String(name string) string {
	return cast.ToString(v[name])
}

func (v Values) Int(name string) int {
	return cast.ToInt(v[name])
}

func (v Values) Float(name string) float64 {
	return cast.ToFloat64(v[name])
}

func (v Values) Bool(name string) bool {
	return cast.ToBool(v[name])
}

func (v Values) Strings(name string) []string {
	return cast.ToStringSlice(v[name])
}
