package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// The policy escapes text it keeps. Only these entities are decoded again;
// &lt; and &gt; stay encoded so nothing the policy let through becomes a tag.
var textEntities = strings.NewReplacer("&amp;", "&", "&#39;", "'", "&#34;", `"`)

// CleanText strips markup from user-entered text and trims surrounding space.
// Input is entity-decoded first so encoded markup is stripped like plain markup.
func CleanText(s string) string {
	return strings.TrimSpace(textEntities.Replace(strictPolicy.Sanitize(html.UnescapeString(s))))
}

// CleanOptional applies CleanText to an optional field, dropping it when empty
func CleanOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := CleanText(*s)
	if v == "" {
		return nil
	}
	return &v
}
