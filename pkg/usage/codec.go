package usage

import (
    "bytes"
    "encoding/json"
    "errors"
    "fmt"
    "math"
    "strings"

    "github.com/go-playground/validator/v10"
)

// MaxNameLength bounds usage names accepted by the codec.
const MaxNameLength = 256

// ErrMalformed is returned for any input that is not a valid set of usage
// descriptors.
var ErrMalformed = errors.New("usage: malformed descriptor")

// Codec validates and normalizes raw usage descriptors. Implementations must
// never panic on malformed input; they return an error instead.
type Codec interface {
    Decode(raw []byte) ([]Usage, error)
}

var validate = validator.New()

// descriptor holds the required fields of a raw descriptor for validation.
type descriptor struct {
    Name  string   `validate:"required,max=256"`
    Value *float64 `validate:"required"`
}

// JSONCodec decodes JSON descriptors. Accepted shapes are a single
// descriptor object, an array of descriptors, or {"usages": [...]}.
// Fields other than name and value are kept in Meta; a nested "meta" object
// is flattened into Meta so exported usages decode back to themselves.
// One invalid descriptor rejects the whole batch. Duplicate names keep the
// position of their first occurrence and the value of their last.
type JSONCodec struct{}

// NewCodec returns the default JSON codec.
func NewCodec() JSONCodec { return JSONCodec{} }

func (JSONCodec) Decode(raw []byte) ([]Usage, error) {
    raw = bytes.TrimSpace(raw)
    if len(raw) == 0 { return nil, ErrMalformed }
    var items []json.RawMessage
    switch raw[0] {
    case '[':
        if err := json.Unmarshal(raw, &items); err != nil { return nil, fmt.Errorf("%w: %v", ErrMalformed, err) }
    case '{':
        var obj map[string]json.RawMessage
        if err := json.Unmarshal(raw, &obj); err != nil { return nil, fmt.Errorf("%w: %v", ErrMalformed, err) }
        list, wrapped := obj["usages"]
        if _, named := obj["name"]; wrapped && !named {
            list = bytes.TrimSpace(list)
            if len(list) == 0 || list[0] != '[' { return nil, fmt.Errorf("%w: usages is not a list", ErrMalformed) }
            if err := json.Unmarshal(list, &items); err != nil { return nil, fmt.Errorf("%w: %v", ErrMalformed, err) }
        } else {
            items = []json.RawMessage{raw}
        }
    default:
        return nil, ErrMalformed
    }

    out := make([]Usage, 0, len(items))
    index := make(map[string]int, len(items))
    for i, item := range items {
        u, err := decodeOne(item)
        if err != nil { return nil, fmt.Errorf("%w: item %d: %v", ErrMalformed, i, err) }
        if at, dup := index[u.Name]; dup {
            out[at] = u
            continue
        }
        index[u.Name] = len(out)
        out = append(out, u)
    }
    return out, nil
}

func decodeOne(item json.RawMessage) (Usage, error) {
    var fields map[string]json.RawMessage
    if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
        return Usage{}, errors.New("not an object")
    }
    var d descriptor
    if v, ok := fields["name"]; ok {
        if err := json.Unmarshal(v, &d.Name); err != nil { return Usage{}, errors.New("name is not a string") }
    }
    d.Name = strings.TrimSpace(d.Name)
    if v, ok := fields["value"]; ok {
        if err := json.Unmarshal(v, &d.Value); err != nil { return Usage{}, errors.New("value is not a number") }
    }
    if err := validate.Struct(&d); err != nil { return Usage{}, err }
    if math.IsNaN(*d.Value) || math.IsInf(*d.Value, 0) { return Usage{}, errors.New("value is not finite") }

    u := Usage{Name: d.Name, Value: *d.Value}
    for k, v := range fields {
        if k == "name" || k == "value" { continue }
        var x any
        if err := json.Unmarshal(v, &x); err != nil { return Usage{}, err }
        if k == "meta" {
            if m, ok := x.(map[string]any); ok {
                for mk, mv := range m { u.setMeta(mk, mv) }
                continue
            }
            if x == nil { continue }
        }
        u.setMeta(k, x)
    }
    return u, nil
}

func (u *Usage) setMeta(k string, v any) {
    if u.Meta == nil { u.Meta = make(map[string]any) }
    u.Meta[k] = v
}

var _ Codec = JSONCodec{}
