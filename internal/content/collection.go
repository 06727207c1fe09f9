package content

import (
	"fmt"
	"strings"
)

// Collection names one of the fixed content collections.
type Collection string

const (
	CollectionEvents       Collection = "events"
	CollectionTeamMembers  Collection = "team-members"
	CollectionPolls        Collection = "polls"
	CollectionPlanOfAction Collection = "plan-of-action"
	CollectionNotices      Collection = "notices"
)

// Collections lists every known collection in display order.
func Collections() []Collection {
	return []Collection{
		CollectionEvents,
		CollectionTeamMembers,
		CollectionPolls,
		CollectionPlanOfAction,
		CollectionNotices,
	}
}

// ParseCollection resolves a raw identifier against the allow-list.
func ParseCollection(raw string) (Collection, error) {
	candidate := Collection(strings.TrimSpace(raw))
	for _, known := range Collections() {
		if candidate == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCollection, raw)
}

// String returns the wire identifier.
func (c Collection) String() string {
	return string(c)
}
