package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	headingPattern = regexp.MustCompile(`(?im)^[ \t]*(?:[0-9IVX]+\.?[ \t]*)?(references|bibliography|literature cited|works cited)[ \t]*:?[ \t]*$`)

	bracketMarker  = regexp.MustCompile(`(?m)^[ \t]*\[\d{1,4}\][ \t]*`)
	numberedMarker = regexp.MustCompile(`(?m)^[ \t]*\d{1,4}\.[ \t]+`)
	blankLine      = regexp.MustCompile(`\n[ \t]*\n`)
	whitespace     = regexp.MustCompile(`\s+`)

	// New style YYMM.NNNNN and old style archive/YYMMNNN identifiers.
	arxivPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)arXiv[:\s]+(\d{4}\.\d{4,5}(?:v\d+)?)`),
		regexp.MustCompile(`(?i)arxiv\.org/(?:abs|pdf)/(\d{4}\.\d{4,5}(?:v\d+)?)`),
		regexp.MustCompile(`(?i)arXiv[:\s]+([a-z-]+(?:\.[A-Z]{2})?/\d{7}(?:v\d+)?)`),
		regexp.MustCompile(`(?i)arxiv\.org/(?:abs|pdf)/([a-z-]+(?:\.[A-Z]{2})?/\d{7}(?:v\d+)?)`),
	}
	versionSuffix = regexp.MustCompile(`v\d+$`)

	doiPattern  = regexp.MustCompile(`10\.\d{4,9}/[^\s<>"{}|\\^~\[\]` + "`" + `]+`)
	yearPattern = regexp.MustCompile(`\b(1[89]\d{2}|20\d{2})[a-z]?\b`)
)

const minReferenceLen = 12

// ParseReferences finds the last references heading in text and splits what
// follows into annotated entries. Text without a heading yields nil.
func ParseReferences(text string) []Reference {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	locs := headingPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	section := text[locs[len(locs)-1][1]:]

	var refs []Reference
	for _, raw := range splitEntries(section) {
		raw = strings.TrimSpace(whitespace.ReplaceAllString(raw, " "))
		if len(raw) < minReferenceLen {
			continue
		}
		refs = append(refs, annotate(raw))
	}
	return refs
}

func splitEntries(section string) []string {
	for _, marker := range []*regexp.Regexp{bracketMarker, numberedMarker} {
		locs := marker.FindAllStringIndex(section, -1)
		if len(locs) < 2 {
			continue
		}
		entries := make([]string, 0, len(locs))
		for i, loc := range locs {
			end := len(section)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			entries = append(entries, section[loc[1]:end])
		}
		return entries
	}
	return blankLine.Split(section, -1)
}

func annotate(raw string) Reference {
	ref := Reference{Raw: raw}
	rest := raw

	seen := map[string]bool{}
	for _, pat := range arxivPatterns {
		for _, m := range pat.FindAllStringSubmatch(raw, -1) {
			id := NormalizeArxivID(m[1])
			if !seen[id] {
				seen[id] = true
				ref.ArxivIDs = append(ref.ArxivIDs, id)
			}
			rest = strings.ReplaceAll(rest, m[0], " ")
		}
	}

	for _, doi := range doiPattern.FindAllString(rest, -1) {
		doi = strings.TrimRight(doi, ".,;)")
		if !seen[doi] {
			seen[doi] = true
			ref.DOIs = append(ref.DOIs, doi)
		}
		rest = strings.ReplaceAll(rest, doi, " ")
	}

	if years := yearPattern.FindAllStringSubmatch(rest, -1); len(years) > 0 {
		ref.Year, _ = strconv.Atoi(years[len(years)-1][1])
	}
	return ref
}

// NormalizeArxivID drops the version suffix: 2003.00001v2 -> 2003.00001.
func NormalizeArxivID(id string) string {
	return versionSuffix.ReplaceAllString(id, "")
}
