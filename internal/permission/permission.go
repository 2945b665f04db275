// Package permission defines the closed set of fine-grained permission flags
// an admin can grant to an employee.
package permission

import (
	"fmt"
	"sort"

	"servchat/internal/model"
)

type Kind uint8

const (
	ManageUsers Kind = iota
	ManagePermissions
	PublishAnnouncements
	ManageTasks
	SendEmail
	ManageFaces

	kindCount
)

// All lists every kind in declaration order.
func All() []Kind {
	kinds := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

func (k Kind) String() string {
	switch k {
	case ManageUsers:
		return "manage_users"
	case ManagePermissions:
		return "manage_permissions"
	case PublishAnnouncements:
		return "publish_announcements"
	case ManageTasks:
		return "manage_tasks"
	case SendEmail:
		return "send_email"
	case ManageFaces:
		return "manage_faces"
	case kindCount:
	}
	return fmt.Sprintf("permission(%d)", uint8(k))
}

func Parse(name string) (Kind, error) {
	for _, k := range All() {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown permission %q", name)
}

// Set is a bitset of granted kinds.
type Set uint64

func NewSet(kinds ...Kind) Set {
	var s Set
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

func (s Set) With(k Kind) Set    { return s | 1<<k }
func (s Set) Without(k Kind) Set { return s &^ (1 << k) }
func (s Set) Has(k Kind) bool    { return s&(1<<k) != 0 }

// Names returns the granted kinds as sorted names.
func (s Set) Names() []string {
	names := make([]string, 0)
	for _, k := range All() {
		if s.Has(k) {
			names = append(names, k.String())
		}
	}
	sort.Strings(names)
	return names
}

func ParseNames(names []string) (Set, error) {
	var s Set
	for _, name := range names {
		k, err := Parse(name)
		if err != nil {
			return 0, err
		}
		s = s.With(k)
	}
	return s, nil
}

// Allowed reports whether a user with role and granted set may perform k.
// Admins hold every permission implicitly.
func Allowed(role model.Role, granted Set, k Kind) bool {
	if role == model.RoleAdmin {
		return true
	}
	return granted.Has(k)
}
