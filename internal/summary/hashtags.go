// Package summary produces the end-of-session keyword recap.
package summary

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var hashtagPattern = regexp.MustCompile(`#\s*([^#\n]+)`)

// ExtractHashtags returns the distinct hashtags in text, sorted. Every run of
// characters after a '#' up to the next '#' or newline becomes one tag with
// all whitespace removed.
func ExtractHashtags(text string) []string {
	seen := make(map[string]struct{})
	tags := make([]string, 0)
	for _, m := range hashtagPattern.FindAllStringSubmatch(text, -1) {
		body := strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, m[1])
		if body == "" {
			continue
		}
		tag := "#" + body
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
