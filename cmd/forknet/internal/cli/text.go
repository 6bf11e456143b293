package cli

import (
	"strings"
)

// indentation prefixes every example line.
const indentation = `  `

// longDesc strips the common leading whitespace of a raw string literal so help text can be
// indented like the surrounding code.
func longDesc(s string) string {
	lines := strings.Split(strings.Trim(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// examples is longDesc with every line indented, as cobra prints examples verbatim.
func examples(s string) string {
	desc := longDesc(s)
	if desc == "" {
		return desc
	}

	lines := strings.Split(desc, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indentation + line
		}
	}

	return strings.Join(lines, "\n")
}
