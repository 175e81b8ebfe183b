package shared

// DefaultListLimit caps listings when the caller does not provide a limit.
const DefaultListLimit = 200

// ClampLimit normalises a requested listing limit.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultListLimit
	}
	return limit
}
