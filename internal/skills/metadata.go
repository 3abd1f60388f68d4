package skills

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

const (
	MetadataFileName     = "SKILL.md"
	maxDescriptionLength = 200
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	edgeQuotes    = regexp.MustCompile(`^['"]|['"]$`)
)

// ParseDescription extracts the description from a SKILL.md front matter
// block. It returns fallback when there is no usable description.
func ParseDescription(content []byte, fallback string) string {
	front, ok := splitFrontMatter(string(content))
	if !ok {
		return fallback
	}
	lines := strings.Split(front, "\n")
	idx := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "description:") {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fallback
	}

	inline := strings.TrimSpace(strings.Replace(lines[idx], "description:", "", 1))
	switch inline {
	case ">", "|":
		if desc := parseBlockScalar(lines[idx+1:], inline); desc != "" {
			return desc
		}
		return fallback
	case "":
		return fallback
	}
	if desc := decodeQuoted(inline); desc != "" {
		return desc
	}
	return edgeQuotes.ReplaceAllString(inline, "")
}

func splitFrontMatter(content string) (string, bool) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(content, "---\n") {
		return "", false
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// parseBlockScalar collects indented continuation lines, keeping blank
// lines, until the first non-indented non-blank line.
func parseBlockScalar(lines []string, style string) string {
	collected := make([]string, 0, len(lines))
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "  ") || strings.HasPrefix(line, "\t"):
			collected = append(collected, strings.TrimSpace(line))
		case strings.TrimSpace(line) == "":
			collected = append(collected, "")
		default:
			return finishBlock(collected, style)
		}
	}
	return finishBlock(collected, style)
}

func finishBlock(collected []string, style string) string {
	sep := "\n"
	if style == ">" {
		sep = " "
	}
	joined := strings.TrimSpace(strings.Join(collected, sep))
	joined = whitespaceRun.ReplaceAllString(joined, " ")
	return truncate(joined, maxDescriptionLength)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

// decodeQuoted lets YAML resolve the escapes of a quoted value. Plain values
// are taken verbatim, so "#" and ":" inside them are kept.
func decodeQuoted(inline string) string {
	if !strings.HasPrefix(inline, `"`) && !strings.HasPrefix(inline, "'") {
		return ""
	}
	var value string
	if err := yaml.Unmarshal([]byte(inline), &value); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}
