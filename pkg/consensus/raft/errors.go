package raftcons

import "errors"

var (
    // ErrNotLeader is returned by writes on a follower.
    ErrNotLeader = errors.New("raftcons: not leader")
    // ErrNotStarted is returned before Start and after Stop.
    ErrNotStarted = errors.New("raftcons: not started")
)
