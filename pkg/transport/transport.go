// Package transport defines how usage messages move between nodes and
// producers. Implementations live in sub-packages (httpjson, grpc).
package transport

import (
    "context"
    "encoding/json"

    "github.com/amirimatin/go-usage/pkg/usage"
)

const (
    // TypeCollectUsages carries a member node's exported usages to the master.
    TypeCollectUsages = "collect.usages"
    // TypeImportUsages carries a producer's usages into a node's local view.
    TypeImportUsages = "import.usages"
)

// Message is the unit exchanged over a transport:
// {"type": "collect.usages", "data": {"usages": [...]}}.
type Message struct {
    Type string          `json:"type"`
    Data json.RawMessage `json:"data,omitempty"`
}

// NewUsageMessage wraps usages in a message of the given type.
func NewUsageMessage(typ string, us []usage.Usage) (Message, error) {
    if us == nil { us = []usage.Usage{} }
    data, err := json.Marshal(usage.Report{Usages: us})
    if err != nil { return Message{}, err }
    return Message{Type: typ, Data: data}, nil
}

// Target names the recipient of a Send: a role or a node ID.
type Target string

// TargetMaster addresses whichever node currently holds the master role.
const TargetMaster Target = "master"

// MessageHandler receives an inbound message and the ID of its sender.
type MessageHandler func(msg Message, source string)

// DisconnectHandler receives the ID of a source that went away.
type DisconnectHandler func(source string)

// Transport is the collaborator the collector depends on.
type Transport interface {
    // Send delivers msg to target without waiting for it to arrive. Delivery
    // failures are the transport's business and are not reported back.
    Send(msg Message, target Target)
    OnMessage(h MessageHandler)
    OnDisconnect(h DisconnectHandler)
}

// Resolver maps a Target to a dialable address.
type Resolver func(target Target) (addr string, ok bool)

// ViewFunc returns a JSON document served by an endpoint.
type ViewFunc func(ctx context.Context) ([]byte, error)

// Views are the read-only documents a node endpoint exposes.
type Views struct {
    Status ViewFunc
    Usages ViewFunc
    Pool   ViewFunc
}

// Endpoint is a Transport that also listens for peers and serves Views.
type Endpoint interface {
    Transport
    SetResolver(r Resolver)
    Start(ctx context.Context, views Views) error
    Addr() string
    Stop(ctx context.Context) error
}
