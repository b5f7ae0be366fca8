package identity

import "time"

// Role is the access level of an identity. The zero value marks a provisional
// record that only holds a pending code.
type Role string

const (
	RoleUnset Role = ""
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUnset, RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// PendingCode is a one-time code together with its expiry. The two are always
// stored and cleared as a pair.
type PendingCode struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the code is no longer valid at now.
func (p PendingCode) Expired(now time.Time) bool {
	return p.ExpiresAt.Before(now)
}

// Identity is one row per distinct phone number.
type Identity struct {
	ID              string
	PhoneCiphertext []byte
	PhoneHash       string
	Nickname        *string
	Role            Role
	Code            *PendingCode
	LastCodeSentAt  *time.Time
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Patch is a partial update. Nil fields are left untouched; ClearCode wins
// over SetCode.
type Patch struct {
	Nickname       *string
	Role           *Role
	SetCode        *PendingCode
	ClearCode      bool
	LastCodeSentAt *time.Time
	Active         *bool
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Nickname == nil && p.Role == nil && p.SetCode == nil && !p.ClearCode &&
		p.LastCodeSentAt == nil && p.Active == nil
}

// Apply returns a copy of i with the patch applied.
func (p Patch) Apply(i Identity, now time.Time) Identity {
	if p.Nickname != nil {
		nick := *p.Nickname
		i.Nickname = &nick
	}
	if p.Role != nil {
		i.Role = *p.Role
	}
	if p.SetCode != nil {
		code := *p.SetCode
		i.Code = &code
	}
	if p.ClearCode {
		i.Code = nil
	}
	if p.LastCodeSentAt != nil {
		at := *p.LastCodeSentAt
		i.LastCodeSentAt = &at
	}
	if p.Active != nil {
		i.Active = *p.Active
	}
	i.UpdatedAt = now
	return i
}
