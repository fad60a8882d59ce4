package domain

import "strings"

// SortField is a column a command listing may be ordered by.
type SortField string

const (
	SortCreatedAt  SortField = "created_at"
	SortUpdatedAt  SortField = "updated_at"
	SortCode       SortField = "code"
	SortIsExecuted SortField = "is_executed"
)

func (f SortField) Valid() bool {
	switch f {
	case SortCreatedAt, SortUpdatedAt, SortCode, SortIsExecuted:
		return true
	}
	return false
}

type Sort struct {
	Field SortField
	Desc  bool
}

// ParseSort validates a requested ordering against the allow-list. Empty
// values select newest first.
func ParseSort(field, dir string) (Sort, error) {
	s := Sort{Field: SortCreatedAt, Desc: true}
	if field != "" {
		f := SortField(strings.ToLower(field))
		if !f.Valid() {
			return Sort{}, Invalid("cannot sort by %q", field)
		}
		s.Field = f
	}
	switch strings.ToLower(dir) {
	case "":
	case "asc":
		s.Desc = false
	case "desc":
		s.Desc = true
	default:
		return Sort{}, Invalid("sort direction must be asc or desc")
	}
	return s, nil
}

// OrderBy renders the clause for an allow-listed Sort. Field values never come
// from the request directly.
func (s Sort) OrderBy() string {
	var col string
	switch s.Field {
	case SortUpdatedAt:
		col = "updated_at"
	case SortCode:
		col = "code"
	case SortIsExecuted:
		col = "is_executed"
	default:
		col = "created_at"
	}
	if s.Desc {
		return col + " DESC, id DESC"
	}
	return col + " ASC, id ASC"
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

type Page struct {
	Offset int
	Limit  int
}

// Normalize clamps the page into the accepted range.
func (p Page) Normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

type CommandQuery struct {
	Sort Sort
	Page Page
}

// Scope restricts listings to what an identity may see. Empty fields do not
// restrict.
type Scope struct {
	VehicleID string
	CompanyID string
	UserID    string
}

// ScopeFor builds the listing scope of a user identity.
func ScopeFor(id Identity) Scope {
	switch id.Role {
	case RoleSuperAdmin:
		return Scope{}
	case RoleCompanyAdmin:
		return Scope{CompanyID: id.CompanyID}
	default:
		return Scope{UserID: id.UserID}
	}
}

// Matches reports whether v falls inside the scope.
func (s Scope) Matches(v *Vehicle) bool {
	if s.VehicleID != "" && s.VehicleID != v.ID {
		return false
	}
	if s.CompanyID != "" && s.CompanyID != v.CompanyID {
		return false
	}
	if s.UserID != "" && !v.HasUser(s.UserID) {
		return false
	}
	return true
}
