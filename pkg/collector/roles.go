package collector

import (
    "fmt"
    "strings"
)

// Role is the cluster role a node currently holds.
type Role int

const (
    // RoleDefault is the unresolved role held while election is pending.
    RoleDefault Role = iota
    // RoleMaster owns the authoritative cluster pool.
    RoleMaster
    // RoleMember forwards its local usages to the master.
    RoleMember

    roleCount
)

var roleNames = [roleCount]string{"default", "master", "member"}

func (r Role) String() string {
    if !r.valid() { return fmt.Sprintf("role(%d)", int(r)) }
    return roleNames[r]
}

func (r Role) valid() bool { return r >= 0 && r < roleCount }

// ParseRole maps "default", "master" or "member" (case-insensitive) to a Role.
func ParseRole(s string) (Role, error) {
    for i, n := range roleNames {
        if strings.EqualFold(strings.TrimSpace(s), n) { return Role(i), nil }
    }
    return RoleDefault, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// RoleNames returns the names of all roles in enum order.
func RoleNames() []string { return append([]string(nil), roleNames[:]...) }
