package resource

// DiffType represents the change detected between two sightings of a resource.
type DiffType string

const (
	// DiffAdded indicates the resource was not seen before.
	DiffAdded DiffType = "added"
	// DiffUnchanged indicates the same incarnation was seen again.
	DiffUnchanged DiffType = "unchanged"
	// DiffRecreated indicates the name now refers to a different incarnation.
	DiffRecreated DiffType = "recreated"
	// DiffUnknown indicates no uniquifier was available to compare.
	DiffUnknown DiffType = "unknown"
)

// Change records a uniquifier transition.
type Change struct {
	Previous string
	Current  string
}

// Diff classifies a uniquifier transition. An empty value means the
// uniquifier was not available on that sighting.
func (c Change) Diff(seenBefore bool) DiffType {
	switch {
	case !seenBefore:
		return DiffAdded
	case c.Previous == "" || c.Current == "":
		return DiffUnknown
	case c.Previous == c.Current:
		return DiffUnchanged
	default:
		return DiffRecreated
	}
}

// ResourceKey returns a unique key for identifying a resource across observations.
func ResourceKey(r *Resource) string {
	return string(r.Type()) + "|" + r.FullName()
}
