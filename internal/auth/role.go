package auth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the kind of identity calling the API.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Capability is a permission checked by route guards.
type Capability string

const (
	// CapManageClasses covers class upserts, session deletion and manual generator runs.
	CapManageClasses Capability = "manage_classes"
	// CapManageSessions covers session creation, reads and QR issuance.
	CapManageSessions Capability = "manage_sessions"
	// CapCheckIn lets the caller mark their own attendance.
	CapCheckIn Capability = "check_in"
)

var capabilities = map[Role][]Capability{
	RoleAdmin:   {CapManageClasses, CapManageSessions},
	RoleTeacher: {CapManageSessions},
	RoleStudent: {CapCheckIn},
}

// legacyCodes maps the numeric role codes still present in older tokens.
var legacyCodes = map[string]Role{
	"1": RoleAdmin,
	"2": RoleStudent,
	"3": RoleTeacher,
}

// ParseRole accepts a role name or a legacy numeric code.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if r, ok := legacyCodes[s]; ok {
		return r, nil
	}
	r := Role(s)
	if _, ok := capabilities[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Can reports whether r grants c.
func (r Role) Can(c Capability) bool {
	for _, have := range capabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

// UnmarshalJSON normalises legacy codes and rejects unknown roles.
func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
