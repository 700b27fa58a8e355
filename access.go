package rested

// AccessPolicy configures the ownership and role gate applied to Owned entities.
type AccessPolicy struct {
	// RestrictToOwner limits access to the entity's creator unless the caller
	// holds one of Roles.
	RestrictToOwner bool

	// Roles that bypass the owner restriction. Empty means no role policy.
	Roles []string
}

// inRole is the tri-state role check: nil when no roles are configured.
func (p AccessPolicy) inRole(userRoles []string) *bool {
	if len(p.Roles) == 0 {
		return nil
	}
	result := false
	for _, want := range p.Roles {
		for _, have := range userRoles {
			if want == have {
				result = true
				return &result
			}
		}
	}
	return &result
}

// isOwner is vacuously true when the owner restriction is off.
func (p AccessPolicy) isOwner(userID, ownerID string) bool {
	if !p.RestrictToOwner {
		return true
	}
	return userID != "" && userID == ownerID
}

// Allows decides access to one entity. Access is denied when the caller is
// not the owner and does not hold a qualifying role; with no role policy,
// ownership alone decides.
func (p AccessPolicy) Allows(userID string, userRoles []string, ownerID string) bool {
	if p.isOwner(userID, ownerID) {
		return true
	}
	inRole := p.inRole(userRoles)
	return inRole != nil && *inRole
}

// listScope is the outcome of the list-level check.
type listScope int

const (
	scopeAll listScope = iota
	scopeOwn
	scopeDenied
)

// listScope decides list access the way Allows decides it per row: callers
// in role see everything, callers restricted to their own rows get an owner
// filter, and anonymous callers own nothing.
func (p AccessPolicy) listScope(userID string, userRoles []string) listScope {
	inRole := p.inRole(userRoles)
	switch {
	case inRole != nil && *inRole:
		return scopeAll
	case p.RestrictToOwner && userID == "":
		return scopeDenied
	case p.RestrictToOwner:
		return scopeOwn
	case inRole != nil && !*inRole:
		return scopeDenied
	default:
		return scopeAll
	}
}
