package static

import "github.com/amirimatin/go-usage/pkg/discovery"

type staticSeeds struct {
    seeds []string
}

func (s *staticSeeds) Seeds() []string { return append([]string(nil), s.seeds...) }

// New returns a Discovery that always returns the given seeds, normalized.
func New(seeds ...string) discovery.Discovery {
    return &staticSeeds{seeds: discovery.Normalize(seeds...)}
}

// Parse converts a comma-separated flag value into seeds.
func Parse(csv string) []string { return discovery.Normalize(csv) }
