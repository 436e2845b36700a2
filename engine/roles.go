package engine

import "strings"

// Role is a chat-level permission a caller can hold. Callers may hold several
// at once; Everyone is implicit for all callers.
type Role string

const (
	RoleStreamer   Role = "streamer"
	RoleModerator  Role = "moderator"
	RoleVIP        Role = "vip"
	RoleSubscriber Role = "subscriber"
	RoleEveryone   Role = "everyone"
)

// ParseRole maps a settings-file role name to a Role, accepting the short
// forms the original config format used. Unknown names map to "".
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "streamer", "broadcaster":
		return RoleStreamer
	case "moderator", "mod":
		return RoleModerator
	case "vip":
		return RoleVIP
	case "subscriber", "sub":
		return RoleSubscriber
	case "everyone":
		return RoleEveryone
	default:
		return ""
	}
}

// ParseRoles maps a list of settings-file role names, dropping unknowns.
func ParseRoles(names []string) []Role {
	out := make([]Role, 0, len(names))
	for _, n := range names {
		if r := ParseRole(n); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Eligible reports whether a caller holding the given roles satisfies the
// requirement. An empty requirement, or one containing Everyone, is satisfied
// by any caller.
func Eligible(caller []Role, requirement []Role) bool {
	if len(requirement) == 0 {
		return true
	}
	for _, req := range requirement {
		if req == RoleEveryone {
			return true
		}
		for _, have := range caller {
			if have == req {
				return true
			}
		}
	}
	return false
}
