package models

import "sort"

// Identity is the stable cross-system identity key for a synchronized entity.
// It is unique and immutable once established; an entity whose identity cannot
// be resolved on both platforms is unlinked and excluded from sync.
type Identity string

// Origin identifies which external platform produced an event or owns a state.
type Origin string

const (
	// OriginDonor is the authoritative platform (the Plasmo API side).
	OriginDonor Origin = "donor"
	// OriginGuild is the target platform (the guild side).
	OriginGuild Origin = "guild"
	// OriginAPI marks work requested through the HTTP control surface.
	OriginAPI Origin = "api"
	// OriginSweep marks work scheduled by the periodic full sweep.
	OriginSweep Origin = "sweep"
)

// AttributeCategory identifies one synchronized attribute slot.
type AttributeCategory string

const (
	CategoryMembership AttributeCategory = "membership"
	CategoryBan        AttributeCategory = "ban"
	CategoryRole       AttributeCategory = "role"
	CategoryNickname   AttributeCategory = "nickname"
)

const (
	// MembershipMember marks an entity admitted by the donor whitelist.
	MembershipMember = "member"
	// BanActive marks an entity banned on the donor platform.
	BanActive = "banned"
)

// CategorySpec describes the sync semantics of one attribute category.
type CategorySpec struct {
	// ID is the stable ordering identifier used for deterministic operation
	// ordering across runs.
	ID   int
	Name AttributeCategory
	// Exclusive marks slots that must be vacated before a replacement value is
	// assigned (removals ordered before additions).
	Exclusive bool
	// SingleValued slots hold at most one value; a changed value is corrected
	// with a single update operation instead of a remove/add pair.
	SingleValued bool
	// Switch is the guild settings switch that gates this category.
	Switch string
	// Privileged categories are only honored on verified guilds.
	Privileged bool
}

// categories is the registry of synchronized attribute categories. Order of ID
// determines cross-category operation ordering.
var categories = map[AttributeCategory]CategorySpec{
	CategoryMembership: {ID: 0, Name: CategoryMembership, Exclusive: true, Switch: SwitchWhitelist, Privileged: true},
	CategoryBan:        {ID: 1, Name: CategoryBan, Exclusive: true, Switch: SwitchSyncBans, Privileged: true},
	CategoryRole:       {ID: 2, Name: CategoryRole, Exclusive: true, Switch: SwitchSyncRoles},
	CategoryNickname:   {ID: 3, Name: CategoryNickname, Exclusive: true, SingleValued: true, Switch: SwitchSyncNicknames},
}

// Spec returns the category spec for a category. Unknown categories get the
// highest ordering ID so they sort last.
func (c AttributeCategory) Spec() CategorySpec {
	if spec, ok := categories[c]; ok {
		return spec
	}
	return CategorySpec{ID: len(categories), Name: c}
}

// Categories returns all registered categories in ordering-ID order.
func Categories() []CategorySpec {
	specs := make([]CategorySpec, 0, len(categories))
	for _, spec := range categories {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// State is a snapshot of an entity's synchronized attributes on one platform.
// Each category holds the set of values currently occupying that slot; single
// valued slots (nickname, ban) hold at most one value.
type State struct {
	Attributes map[AttributeCategory][]string `json:"attributes"`
}

// NewState returns an empty state.
func NewState() State {
	return State{Attributes: make(map[AttributeCategory][]string)}
}

// Values returns the sorted values in a category. The copy is safe to mutate.
func (s State) Values(category AttributeCategory) []string {
	values := append([]string(nil), s.Attributes[category]...)
	sort.Strings(values)
	return values
}

// Set replaces the values in a category.
func (s *State) Set(category AttributeCategory, values ...string) {
	if s.Attributes == nil {
		s.Attributes = make(map[AttributeCategory][]string)
	}
	s.Attributes[category] = values
}

// Has reports whether a value occupies the category slot.
func (s State) Has(category AttributeCategory, value string) bool {
	for _, v := range s.Attributes[category] {
		if v == value {
			return true
		}
	}
	return false
}

// Equal reports whether two states hold the same values in every category.
func (s State) Equal(other State) bool {
	seen := make(map[AttributeCategory]bool, len(s.Attributes))
	for category := range s.Attributes {
		seen[category] = true
	}
	for category := range other.Attributes {
		seen[category] = true
	}
	for category := range seen {
		a, b := s.Values(category), other.Values(category)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	clone := NewState()
	for category, values := range s.Attributes {
		clone.Attributes[category] = append([]string(nil), values...)
	}
	return clone
}
