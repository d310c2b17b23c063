package policy

// matchSegments reports whether a pattern matches a path, both already
// split into segments.
//
// Semantics:
//   - a literal segment matches only itself
//   - `*` matches exactly one segment
//   - `**` matches any number of segments, including none, so
//     "/chat/**" matches "/chat" as well as "/chat/room/7"
func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}

	if pattern[0] == "**" {
		// Either `**` swallows nothing, or it swallows the first
		// segment and stays in play for the rest.
		if matchSegments(pattern[1:], path) {
			return true
		}
		return len(path) > 0 && matchSegments(pattern, path[1:])
	}

	if len(path) == 0 {
		return false
	}

	if pattern[0] != "*" && pattern[0] != path[0] {
		return false
	}
	return matchSegments(pattern[1:], path[1:])
}
