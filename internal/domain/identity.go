package domain

type Role string

const (
	RoleSuperAdmin   Role = "SUPER_ADMIN"
	RoleCompanyAdmin Role = "COMPANY_ADMIN"
	RoleUser         Role = "USER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleCompanyAdmin, RoleUser:
		return true
	}
	return false
}

// Identity is a resolved caller: either a device (Plate set) or a user.
type Identity struct {
	Plate string `json:"plate,omitempty"`

	UserID    string `json:"id,omitempty"`
	Role      Role   `json:"role,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
}

func (i Identity) IsDevice() bool { return i.Plate != "" }
func (i Identity) IsUser() bool   { return i.UserID != "" }

// CanAccess reports whether a user identity has rights over v.
func (i Identity) CanAccess(v *Vehicle) bool {
	if !i.IsUser() || v == nil {
		return false
	}
	switch i.Role {
	case RoleSuperAdmin:
		return true
	case RoleCompanyAdmin:
		if i.CompanyID != "" && i.CompanyID == v.CompanyID {
			return true
		}
	}
	return v.HasUser(i.UserID)
}

// Authorize returns a PermissionError unless i can act on v.
func (i Identity) Authorize(v *Vehicle) error {
	if !i.IsUser() {
		return &AuthError{Msg: "user identity required"}
	}
	if !i.CanAccess(v) {
		return &PermissionError{Msg: "User does not have permission"}
	}
	return nil
}

func (i Identity) RequireSuperAdmin() error {
	if !i.IsUser() {
		return &AuthError{Msg: "user identity required"}
	}
	if i.Role != RoleSuperAdmin {
		return &PermissionError{Msg: "super admin required"}
	}
	return nil
}
