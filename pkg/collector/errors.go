package collector

import "errors"

var (
    ErrNilPool      = errors.New("collector: nil Pool")
    ErrNilTransport = errors.New("collector: nil Transport")
    ErrUnknownRole  = errors.New("collector: unknown role")
)
