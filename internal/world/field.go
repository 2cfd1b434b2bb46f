package world

import (
	"fmt"
	"strings"

	"github.com/quakesync/server/internal/mathx"
)

// Kind tags the representation held by a Value.
type Kind int

const (
	KindNone Kind = iota
	KindFloat
	KindInt
	KindVector
	KindEntity
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindVector:
		return "vector"
	case KindEntity:
		return "entity"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a rules-file type name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "float":
		return KindFloat, nil
	case "int", "integer":
		return KindInt, nil
	case "vector":
		return KindVector, nil
	case "entity":
		return KindEntity, nil
	case "string":
		return KindString, nil
	}
	return KindNone, fmt.Errorf("unknown field type %q", s)
}

// Value is a tagged field value.
type Value struct {
	Kind Kind
	F    float32
	I    int32
	Vec  mathx.Vec3
	S    string
}

func FloatValue(f float32) Value     { return Value{Kind: KindFloat, F: f} }
func IntValue(i int32) Value         { return Value{Kind: KindInt, I: i} }
func EntityValue(n int) Value        { return Value{Kind: KindEntity, I: int32(n)} }
func StringValue(s string) Value     { return Value{Kind: KindString, S: s} }
func VectorValue(v mathx.Vec3) Value { return Value{Kind: KindVector, Vec: v} }

// FieldRegistry assigns slot indices to extension field names so lookups
// by name happen once, at load.
type FieldRegistry struct {
	index map[string]int
	names []string
}

func NewFieldRegistry() *FieldRegistry {
	return &FieldRegistry{index: make(map[string]int)}
}

// Intern returns the slot for name, allocating one on first use.
func (r *FieldRegistry) Intern(name string) int {
	if i, ok := r.index[name]; ok {
		return i
	}
	i := len(r.names)
	r.index[name] = i
	r.names = append(r.names, name)
	return i
}

// Lookup returns the slot for name, or -1.
func (r *FieldRegistry) Lookup(name string) int {
	if i, ok := r.index[name]; ok {
		return i
	}
	return -1
}

func (r *FieldRegistry) Len() int { return len(r.names) }
