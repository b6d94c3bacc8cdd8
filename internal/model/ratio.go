package model

import (
	"encoding/json"
	"strconv"
)

// Ratio is a numeric value that may be undefined, such as an average price
// whose denominator is zero. The zero value is undefined. Undefined is a
// distinct state, not a reused zero: a 0% variation and a missing variation
// must stay distinguishable downstream.
type Ratio struct {
	Value   float64
	Defined bool
}

func DefinedRatio(value float64) Ratio {
	return Ratio{Value: value, Defined: true}
}

// Divide returns numerator/denominator, undefined when the denominator is zero.
func Divide(numerator, denominator float64) Ratio {
	if denominator == 0 {
		return Ratio{}
	}
	return DefinedRatio(numerator / denominator)
}

// Float64 mirrors the sql.Null* accessor shape.
func (r Ratio) Float64() (float64, bool) {
	return r.Value, r.Defined
}

// MarshalJSON renders undefined ratios as null so the presentation layer can
// show a blank instead of a fake zero.
func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Defined {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, r.Value, 'f', -1, 64), nil
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Ratio{}
		return nil
	}
	var value float64
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*r = DefinedRatio(value)
	return nil
}
