package grpc

import (
    "encoding/json"
    "fmt"

    "google.golang.org/grpc/encoding"
)

// codecName is the content subtype collector calls are made with. The health
// service keeps protobuf.
const codecName = "json"

// jsonCodec lets the collector service exchange plain Go structs without
// protobuf codegen.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(b []byte, v any) error {
    if err := json.Unmarshal(b, v); err != nil { return fmt.Errorf("grpc json codec: %w", err) }
    return nil
}

func (jsonCodec) Name() string { return codecName }

func init() { encoding.RegisterCodec(jsonCodec{}) }
