package contracts

import (
	"fmt"
	"strings"
)

// Role is a closed set of capabilities
type Role uint8

const (
	RoleDefaultAdmin Role = iota
	RoleOrderSettle
	RoleOperator
)

// AllRoles lists every role in declaration order
var AllRoles = []Role{RoleDefaultAdmin, RoleOrderSettle, RoleOperator}

var roleNames = [...]string{"DEFAULT_ADMIN", "ORDER_SETTLE", "OPERATOR"}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseRole accepts the role name with or without the _ROLE suffix
func ParseRole(s string) (Role, error) {
	name := strings.TrimSuffix(strings.ToUpper(s), "_ROLE")
	for i, n := range roleNames {
		if n == name {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
