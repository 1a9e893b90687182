package scanner

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/use-agent/mosaic/dom"
)

// sizeSegment matches CDN resolution path segments like "236x", "474x236"
// or the literal "originals" variant directory.
var sizeSegment = regexp.MustCompile(`^(\d+x\d*|originals)$`)

// stemSizeSuffix matches trailing size markers in file stems, e.g. "_300x300".
var stemSizeSuffix = regexp.MustCompile(`_\d+x\d+$`)

// Identity reduces an asset reference to its normalized identity: the
// content-hash file stem with resolution variants and the query string
// stripped, so the same asset at different sizes dedups to one entity.
// Returns "" for references that carry no usable identity.
func Identity(ref string) string {
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ""
	}

	u, err := url.Parse(ref)
	if err != nil {
		// Not a parseable URL; the raw string is its own identity.
		return ref
	}

	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}

	stem := strings.TrimSuffix(base, path.Ext(base))
	stem = stemSizeSuffix.ReplaceAllString(stem, "")
	if stem == "" {
		return ""
	}
	return stem
}

// RefPixelSize extracts a WxH hint from a reference's resolution path
// segment, e.g. ".../60x60/...". Returns (0, 0) when no hint is present.
func RefPixelSize(ref string) (w, h int) {
	u, err := url.Parse(ref)
	if err != nil {
		return 0, 0
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if !sizeSegment.MatchString(seg) || seg == "originals" {
			continue
		}
		parts := strings.SplitN(seg, "x", 2)
		w, _ = strconv.Atoi(parts[0])
		if len(parts) == 2 && parts[1] != "" {
			h, _ = strconv.Atoi(parts[1])
		}
		return w, h
	}
	return 0, 0
}

type srcsetEntry struct {
	url   string
	width int
}

// BestSource returns the highest-resolution reference available on an
// image element: the largest width descriptor in srcset, else src.
// Data URIs are skipped.
func BestSource(n *html.Node) string {
	if entries := parseSrcset(dom.Attr(n, "srcset")); len(entries) > 0 {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].width > entries[j].width
		})
		return entries[0].url
	}

	src := dom.Attr(n, "src")
	if strings.HasPrefix(src, "data:") {
		return ""
	}
	return src
}

// parseSrcset parses a srcset attribute into (url, width) entries per
// the image-candidate grammar: each candidate URL runs to the next
// whitespace, and its descriptors run to the next comma. Splitting on
// every comma would tear apart data URIs, whose base64 payload follows
// a comma with no whitespace. Data-URI candidates (lazy-loader
// placeholders) are dropped. Density descriptors ("2x") and
// descriptor-less candidates get width 0 so explicit width descriptors
// win.
func parseSrcset(srcset string) []srcsetEntry {
	const space = " \t\n\r\f"

	var entries []srcsetEntry
	rest := srcset
	for rest != "" {
		rest = strings.TrimLeft(rest, space+",")
		if rest == "" {
			break
		}

		var candidate, desc string
		if i := strings.IndexAny(rest, space); i == -1 {
			candidate, rest = rest, ""
		} else {
			candidate, rest = rest[:i], rest[i:]
		}

		if trimmed := strings.TrimRight(candidate, ","); trimmed != candidate {
			// A trailing comma ends the candidate with no descriptors.
			candidate = trimmed
		} else {
			rest = strings.TrimLeft(rest, space)
			if i := strings.IndexByte(rest, ','); i == -1 {
				desc, rest = rest, ""
			} else {
				desc, rest = rest[:i], rest[i+1:]
			}
		}

		if candidate == "" || strings.HasPrefix(candidate, "data:") {
			continue
		}
		e := srcsetEntry{url: candidate}
		for _, d := range strings.Fields(desc) {
			if strings.HasSuffix(d, "w") {
				e.width, _ = strconv.Atoi(strings.TrimSuffix(d, "w"))
				break
			}
		}
		entries = append(entries, e)
	}
	return entries
}
