package fbs

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

func checkIntRange(t BaseType, v int64) error {
	var lo, hi int64
	switch t {
	case TypeInt8:
		lo, hi = math.MinInt8, math.MaxInt8
	case TypeInt16:
		lo, hi = math.MinInt16, math.MaxInt16
	case TypeInt32:
		lo, hi = math.MinInt32, math.MaxInt32
	default:
		return nil
	}
	if v < lo || v > hi {
		return fmt.Errorf("%d out of range for %s", v, t)
	}
	return nil
}

func checkUintRange(t BaseType, v uint64) error {
	var hi uint64
	switch t {
	case TypeUint8:
		hi = math.MaxUint8
	case TypeUint16:
		hi = math.MaxUint16
	case TypeUint32:
		hi = math.MaxUint32
	default:
		return nil
	}
	if v > hi {
		return fmt.Errorf("%d out of range for %s", v, t)
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return strconv.ParseInt(n.String(), 10, 64)
	case string:
		return strconv.ParseInt(n, 0, 64)
	}
	return 0, fmt.Errorf("%T is not an integer", v)
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case json.Number:
		return strconv.ParseUint(n.String(), 10, 64)
	case string:
		return strconv.ParseUint(n, 0, 64)
	case uint:
		return uint64(n), nil
	case uint64:
		return n, nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, fmt.Errorf("%d is negative", i)
	}
	return uint64(i), nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	return float64(i), nil
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case json.Number:
		switch b.String() {
		case "0":
			return false, nil
		case "1":
			return true, nil
		}
	case string:
		return strconv.ParseBool(b)
	}
	return false, fmt.Errorf("%T is not a bool", v)
}

// scalarValue converts v to the canonical Go type for t and checks its range
func scalarValue(t BaseType, v any) (any, error) {
	switch t {
	case TypeBool:
		return toBool(v)
	case TypeFloat32, TypeFloat64:
		return toFloat64(v)
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		u, err := toUint64(v)
		if err != nil {
			return nil, err
		}
		return u, checkUintRange(t, u)
	default:
		i, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return i, checkIntRange(t, i)
	}
}
