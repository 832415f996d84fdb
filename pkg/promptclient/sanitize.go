package promptclient

import (
	"regexp"
	"strings"
)

// fence matches a markdown code fence: three backticks, optionally followed
// by an info string (e.g. "text", "geogebra") that runs to the end of its line.
var fence = regexp.MustCompile("```(?:[\\w+.-]*[ \\t]*\\r?\\n)?")

// Sanitize strips code-fence markup from model output and trims surrounding
// whitespace. Everything else is returned verbatim.
func Sanitize(text string) string {
	return strings.TrimSpace(fence.ReplaceAllString(text, ""))
}
