package enums

import "fmt"

// Role identifies a party in the conveyancing transaction.
type Role string

const (
	RoleBuyer             Role = "buyer"
	RoleBuyerConveyancer  Role = "buyer-conveyancer"
	RoleSellerConveyancer Role = "seller-conveyancer"
	RoleEstateAgent       Role = "estate-agent"
)

var validRoles = []Role{
	RoleBuyer,
	RoleBuyerConveyancer,
	RoleSellerConveyancer,
	RoleEstateAgent,
}

// Roles returns every party role in declaration order.
func Roles() []Role {
	out := make([]Role, len(validRoles))
	copy(out, validRoles)
	return out
}

// IsValid checks whether the given role matches the canonical enum.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// Counterpart returns the opposing conveyancer for conveyancer roles.
// Many updates are cross-party: an action by one conveyancer is addressed
// to the other side's conveyancer even when the payload names no audience.
func (r Role) Counterpart() (Role, bool) {
	switch r {
	case RoleBuyerConveyancer:
		return RoleSellerConveyancer, true
	case RoleSellerConveyancer:
		return RoleBuyerConveyancer, true
	}
	return "", false
}

// ParseRole converts raw strings into Role.
func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
