package sse

import "strings"

// parseField splits one protocol line into a field name and value.
//
// A line with no colon is a field name with an empty value. A colon at
// position zero marks a comment, reported as an empty name. Otherwise the
// name is everything before the first colon and the value everything after
// it, with exactly one leading space stripped if present.
func parseField(line string) (name, value string) {
	colon := strings.IndexByte(line, ':')
	if colon == -1 {
		return line, ""
	}

	name = line[:colon]
	value = line[colon+1:]

	// Only a single leading space is part of the separator.
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return name, value
}
