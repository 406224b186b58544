package node

import "errors"

var (
    ErrNoEndpoint   = errors.New("node: nil Endpoint")
    ErrNoConsensus  = errors.New("node: nil Consensus")
    ErrNoMembership = errors.New("node: nil Membership factory")
    ErrNotStarted   = errors.New("node: not started")
    ErrStopped      = errors.New("node: stopped")
)
