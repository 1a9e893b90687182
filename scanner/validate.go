package scanner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/use-agent/mosaic/dom"
)

// defaultContainerSelectors is the ordered list of container strategies,
// most specific first. The first selector with a match wins; when none
// match the whole document is scanned.
var defaultContainerSelectors = []string{
	`[data-test-id="board-feed"]`,
	`[data-test-id="grid"]`,
	`[role="list"]`,
	`main`,
	`#content`,
}

// chromeTags are element names that mark page chrome; a candidate under
// any of them is rejected.
var chromeTags = map[string]bool{
	"nav":    true,
	"header": true,
	"footer": true,
	"aside":  true,
}

// chromeClassIDPatterns are substrings in class/id attributes that mark
// navigation, banner and sidebar areas.
var chromeClassIDPatterns = []string{
	"nav", "menu", "banner", "sidebar", "header", "footer", "toolbar",
}

// compileSelectors parses selector strings, dropping invalid entries.
func compileSelectors(raw []string) []cascadia.Selector {
	if len(raw) == 0 {
		raw = defaultContainerSelectors
	}
	out := make([]cascadia.Selector, 0, len(raw))
	for _, s := range raw {
		sel, err := cascadia.Compile(s)
		if err != nil {
			continue
		}
		out = append(out, sel)
	}
	return out
}

// findContainer locates the most specific known content container,
// falling back to the whole document.
func findContainer(root *html.Node, selectors []cascadia.Selector) *html.Node {
	for _, sel := range selectors {
		if n := cascadia.Query(root, sel); n != nil {
			return n
		}
	}
	return root
}

// validCandidate applies the element-level filters: a candidate must not
// sit under page chrome between itself and the container, and must not be
// declared smaller than minPixels in either dimension. Unknown dimensions
// pass; discovery is best-effort.
func validCandidate(n, container *html.Node, minPixels int) bool {
	for _, anc := range dom.AncestorsUntil(n, container) {
		if chromeTags[anc.Data] {
			return false
		}
		if dom.ClassIDContains(anc, chromeClassIDPatterns) {
			return false
		}
	}

	if w, ok := attrPixels(n, "width"); ok && w < minPixels {
		return false
	}
	if h, ok := attrPixels(n, "height"); ok && h < minPixels {
		return false
	}
	return true
}

// attrPixels parses a numeric width/height attribute.
func attrPixels(n *html.Node, key string) (int, bool) {
	v := strings.TrimSuffix(strings.TrimSpace(dom.Attr(n, key)), "px")
	if v == "" {
		return 0, false
	}
	px, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return px, true
}

// pinCountText matches pin-count chrome text such as "1,234 Pins" or
// "1.234 pins" across digit-grouping locales.
var pinCountText = regexp.MustCompile(`([\d][\d.,\s\x{00a0}]*)\s*[Pp]ins?\b`)

// groupingRunes strips digit-grouping separators before parsing.
var groupingRunes = strings.NewReplacer(",", "", ".", "", " ", "", " ", "")

// targetCountSelectors are places the board header announces its size.
var targetCountSelectors = []string{
	`[data-test-id="pin-count"]`,
	`header`,
	`h1, h2`,
}

// ParseTargetCount extracts an expected pin count from the page chrome.
// This is a locale-tolerant heuristic; callers must treat the result as
// an optional hint only. Returns nil when nothing parses.
func ParseTargetCount(doc *goquery.Document) *int {
	for _, sel := range targetCountSelectors {
		var found *int
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			m := pinCountText.FindStringSubmatch(s.Text())
			if m == nil {
				return true
			}
			n, err := strconv.Atoi(groupingRunes.Replace(strings.TrimSpace(m[1])))
			if err != nil || n <= 0 {
				return true
			}
			found = &n
			return false
		})
		if found != nil {
			return found
		}
	}
	return nil
}
