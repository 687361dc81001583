package datatype

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	cerrors "github.com/arkilian/cubecore/internal/errors"
)

// Serializer encodes aggregator state of one data type to and from bytes.
type Serializer interface {
	Serialize(value interface{}) ([]byte, error)
	Deserialize(data []byte) (interface{}, error)
}

// SerializerSpec names a serializer implementation. Two specs are the same
// serializer when their IDs match; New builds an instance for a concrete type.
type SerializerSpec struct {
	ID  string
	New func(dt *DataType) (Serializer, error)
}

// registry is the process-wide table of registered complex type names and
// their serializers. Registration happens during measure type initialisation;
// afterwards the table is only read.
var registry = struct {
	mu          sync.RWMutex
	serializers map[string]SerializerSpec
}{
	serializers: make(map[string]SerializerSpec),
}

// Register registers a complex data type name together with its serializer.
// Re-registering the same name with the same serializer ID is a no-op; a
// different ID is a fatal configuration conflict.
func Register(name string, spec SerializerSpec) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if err := checkRegister(name, spec); err != nil {
		return err
	}
	registry.serializers[name] = spec
	return nil
}

// CheckRegister returns the error Register would return for name and spec
// without registering anything.
func CheckRegister(name string, spec SerializerSpec) error {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return checkRegister(name, spec)
}

func checkRegister(name string, spec SerializerSpec) error {
	if name != strings.ToLower(name) {
		return cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeInvalidNameCase,
			"data type name '%s' must be in lower case", name)
	}
	if spec.ID == "" || spec.New == nil {
		return cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeSerializerConflict,
			"serializer for data type '%s' is incomplete", name)
	}
	if _, builtin := builtinFamilies[name]; builtin {
		return cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeSerializerConflict,
			"data type '%s' is builtin and cannot be re-registered", name)
	}
	if existing, ok := registry.serializers[name]; ok && existing.ID != spec.ID {
		return cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeSerializerConflict,
			"data type '%s' already registered with serializer %s, cannot register %s",
			name, existing.ID, spec.ID)
	}
	return nil
}

// IsRegistered reports whether a complex type name has been registered.
func IsRegistered(name string) bool {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	_, ok := registry.serializers[name]
	return ok
}

// SerializerID returns the ID of the serializer registered for name.
func SerializerID(name string) (string, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	spec, ok := registry.serializers[name]
	return spec.ID, ok
}

// NewSerializer returns a serializer for dt: the registered one for complex
// types, or the builtin codec of the type's family.
func NewSerializer(dt *DataType) (Serializer, error) {
	registry.mu.RLock()
	spec, ok := registry.serializers[dt.Name()]
	registry.mu.RUnlock()
	if ok {
		return spec.New(dt)
	}

	switch dt.Family() {
	case FamilyInteger, FamilyDateTime:
		return longSerializer{}, nil
	case FamilyFloat, FamilyDecimal:
		return doubleSerializer{}, nil
	case FamilyString:
		return stringSerializer{}, nil
	case FamilyBoolean:
		return boolSerializer{}, nil
	}
	return nil, cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeInvalidDataType,
		"no serializer for data type %s", dt)
}

// longSerializer stores int64 values as 8 little-endian bytes.
type longSerializer struct{}

func (longSerializer) Serialize(value interface{}) ([]byte, error) {
	v, ok := ToInt64(value)
	if !ok {
		return nil, fmt.Errorf("datatype: cannot serialize %T as long", value)
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf, nil
}

func (longSerializer) Deserialize(data []byte) (interface{}, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("datatype: long needs 8 bytes, got %d", len(data))
	}
	return int64(binary.LittleEndian.Uint64(data)), nil
}

// doubleSerializer stores float64 values as their IEEE-754 bits.
type doubleSerializer struct{}

func (doubleSerializer) Serialize(value interface{}) ([]byte, error) {
	v, ok := ToFloat64(value)
	if !ok {
		return nil, fmt.Errorf("datatype: cannot serialize %T as double", value)
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	return buf, nil
}

func (doubleSerializer) Deserialize(data []byte) (interface{}, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("datatype: double needs 8 bytes, got %d", len(data))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
}

type stringSerializer struct{}

func (stringSerializer) Serialize(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}
	return nil, fmt.Errorf("datatype: cannot serialize %T as string", value)
}

func (stringSerializer) Deserialize(data []byte) (interface{}, error) {
	return string(data), nil
}

type boolSerializer struct{}

func (boolSerializer) Serialize(value interface{}) ([]byte, error) {
	v, ok := value.(bool)
	if !ok {
		return nil, fmt.Errorf("datatype: cannot serialize %T as boolean", value)
	}
	if v {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (boolSerializer) Deserialize(data []byte) (interface{}, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("datatype: boolean needs 1 byte, got %d", len(data))
	}
	return data[0] != 0, nil
}

// ToInt64 converts native integer values to int64.
func ToInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int16:
		return int64(val), true
	case int8:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	}
	return 0, false
}

// ToFloat64 converts native numeric values to float64.
func ToFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	}
	if i, ok := ToInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
