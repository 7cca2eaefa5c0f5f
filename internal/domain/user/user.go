package user

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Public is the wire shape of a user. It has no password field at all.
type Public struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (u User) Public() Public {
	p := Public{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if u.Name != "" {
		name := u.Name
		p.Name = &name
	}
	return p
}

func PublicList(users []User) []Public {
	out := make([]Public, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out
}

// NormalizeEmail is applied before every write and lookup so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type ListFilter struct {
	Search string
	Limit  int
	Offset int
}

// Changes is a persisted update. A nil PasswordHash keeps the stored hash.
type Changes struct {
	Name         string
	Email        string
	Role         Role
	PasswordHash *string
}

type Stats struct {
	TotalUsers   int `json:"totalUsers"`
	AdminUsers   int `json:"adminUsers"`
	RegularUsers int `json:"regularUsers"`
	RecentUsers  int `json:"recentUsers"`
}
