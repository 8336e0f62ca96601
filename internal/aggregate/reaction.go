package aggregate

// Reaction types in display order.
var ReactionTypes = []string{"like", "love", "haha", "wow", "sad", "angry"}

// ValidReaction reports whether t is a known reaction type.
func ValidReaction(t string) bool {
	return reactionRank(t) < len(ReactionTypes)
}

func reactionRank(t string) int {
	for i, rt := range ReactionTypes {
		if rt == t {
			return i
		}
	}
	return len(ReactionTypes)
}

// Action is the effect of a reaction request.
type Action string

const (
	Added    Action = "added"
	Removed  Action = "removed"
	Switched Action = "switched"
)

// Plan is the outcome of a reaction request expressed as counter deltas.
type Plan struct {
	Action   Action
	Previous string
	Current  string
	Deltas   map[string]int64
}

// PlanReaction resolves a request for requested given the user's existing
// reaction type (empty when none). Repeating the same type removes it,
// another type replaces it.
func PlanReaction(existing, requested string) Plan {
	switch {
	case existing == "":
		return Plan{Action: Added, Current: requested, Deltas: map[string]int64{requested: 1}}
	case existing == requested:
		return Plan{Action: Removed, Previous: existing, Deltas: map[string]int64{existing: -1}}
	default:
		return Plan{
			Action:   Switched,
			Previous: existing,
			Current:  requested,
			Deltas:   map[string]int64{existing: -1, requested: 1},
		}
	}
}
