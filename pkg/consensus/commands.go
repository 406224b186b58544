package consensus

import (
    "encoding/json"

    "github.com/amirimatin/go-usage/pkg/topology"
)

// Ops understood by the topology FSM.
const (
    OpAddNode    = "AddNode"
    OpRemoveNode = "RemoveNode"
)

// RemoveNodePayload is the payload of an OpRemoveNode command.
type RemoveNodePayload struct {
    ID string `json:"id"`
}

// AddNode builds a command that adds or updates n in the replicated topology.
func AddNode(n topology.Node) (Command, error) {
    b, err := json.Marshal(n)
    if err != nil { return Command{}, err }
    return Command{Op: OpAddNode, Payload: b}, nil
}

// RemoveNode builds a command that drops id from the replicated topology.
func RemoveNode(id string) (Command, error) {
    b, err := json.Marshal(RemoveNodePayload{ID: id})
    if err != nil { return Command{}, err }
    return Command{Op: OpRemoveNode, Payload: b}, nil
}
