package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"club-entitlements/internal/domain"
)

// ValueType is the shape of a feature's value.
type ValueType string

const (
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeEnum    ValueType = "enum"
	ValueTypeLimit   ValueType = "limit"
)

func (t ValueType) Valid() bool {
	switch t {
	case ValueTypeBoolean, ValueTypeEnum, ValueTypeLimit:
		return true
	}
	return false
}

// Feature is a catalog entry. Deactivation is soft.
type Feature struct {
	Key       string
	ValueType ValueType
	Category  string
	Active    bool
}

// FeatureValue is one of BoolValue, EnumValue or LimitValue.
type FeatureValue interface {
	Type() ValueType
	Enabled() bool
	Encode() string
	isFeatureValue()
}

type BoolValue bool

func (BoolValue) Type() ValueType  { return ValueTypeBoolean }
func (v BoolValue) Enabled() bool  { return bool(v) }
func (v BoolValue) Encode() string { return strconv.FormatBool(bool(v)) }
func (BoolValue) isFeatureValue()  {}

type EnumValue string

func (EnumValue) Type() ValueType { return ValueTypeEnum }

// Enabled treats "", "none" and "off" as disabled variants.
func (v EnumValue) Enabled() bool {
	switch strings.ToLower(strings.TrimSpace(string(v))) {
	case "", "none", "off":
		return false
	}
	return true
}
func (v EnumValue) Encode() string { return string(v) }
func (EnumValue) isFeatureValue()  {}

type LimitValue uint32

func (LimitValue) Type() ValueType  { return ValueTypeLimit }
func (v LimitValue) Enabled() bool  { return v > 0 }
func (v LimitValue) Encode() string { return strconv.FormatUint(uint64(v), 10) }
func (LimitValue) isFeatureValue()  {}

// Disabled returns the zero value for a type.
func Disabled(t ValueType) FeatureValue {
	switch t {
	case ValueTypeEnum:
		return EnumValue("none")
	case ValueTypeLimit:
		return LimitValue(0)
	default:
		return BoolValue(false)
	}
}

// ParseFeatureValue decodes the stored text form of a value of type t.
func ParseFeatureValue(t ValueType, raw string) (FeatureValue, error) {
	raw = strings.TrimSpace(raw)
	switch t {
	case ValueTypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: boolean value %q", domain.ErrInvalidArgument, raw)
		}
		return BoolValue(b), nil
	case ValueTypeEnum:
		return EnumValue(raw), nil
	case ValueTypeLimit:
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: limit value %q", domain.ErrInvalidArgument, raw)
		}
		return LimitValue(n), nil
	}
	return nil, fmt.Errorf("%w: value type %q", domain.ErrInvalidArgument, t)
}

type featureValueJSON struct {
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalFeatureValue encodes v as {"type":..,"value":..}.
func MarshalFeatureValue(v FeatureValue) ([]byte, error) {
	var raw []byte
	var err error
	switch tv := v.(type) {
	case BoolValue:
		raw, err = json.Marshal(bool(tv))
	case EnumValue:
		raw, err = json.Marshal(string(tv))
	case LimitValue:
		raw, err = json.Marshal(uint32(tv))
	default:
		return nil, fmt.Errorf("unsupported feature value %T", v)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(featureValueJSON{Type: v.Type(), Value: raw})
}

func UnmarshalFeatureValue(b []byte) (FeatureValue, error) {
	var fv featureValueJSON
	if err := json.Unmarshal(b, &fv); err != nil {
		return nil, err
	}
	switch fv.Type {
	case ValueTypeBoolean:
		var v bool
		if err := json.Unmarshal(fv.Value, &v); err != nil {
			return nil, err
		}
		return BoolValue(v), nil
	case ValueTypeEnum:
		var v string
		if err := json.Unmarshal(fv.Value, &v); err != nil {
			return nil, err
		}
		return EnumValue(v), nil
	case ValueTypeLimit:
		var v uint32
		if err := json.Unmarshal(fv.Value, &v); err != nil {
			return nil, err
		}
		return LimitValue(v), nil
	}
	return nil, fmt.Errorf("unknown feature value type %q", fv.Type)
}

// PlanFeature is the default value of a feature for one plan.
type PlanFeature struct {
	PlanCode   PlanCode
	FeatureKey string
	Value      FeatureValue
}
