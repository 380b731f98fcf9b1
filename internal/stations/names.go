package stations

import (
	"regexp"
	"strings"
)

var (
	// " d Allevard" -> "d'Allevard" (same for l/L).
	reDApost = regexp.MustCompile(`\b([dDlL])\s+([A-Za-zÀ-ÖØ-öø-ÿ])`)
	// Strip "-NIVO", "_NIVO", "NIVOSE" sensor markers.
	reNivo = regexp.MustCompile(`(?i)[-_]?\bNIVO(?:SE)?\b`)
	// Collapse runs of whitespace.
	reSpaces = regexp.MustCompile(`\s+`)
)

// Particles stay lowercase when not leading the name.
var particles = map[string]struct{}{
	"de": {}, "du": {}, "des": {}, "la": {}, "le": {}, "les": {}, "et": {},
	"à": {}, "au": {}, "aux": {}, "sur": {}, "sous": {}, "par": {}, "en": {},
	"chez": {}, "l": {}, "d": {},
}

// NormalizeName lowercases a raw upstream station name after fixing
// detached elision particles and stripping sensor markers.
func NormalizeName(raw string) string {
	s := strings.TrimSpace(raw)
	s = reDApost.ReplaceAllString(s, "$1'$2")
	s = reNivo.ReplaceAllString(s, "")
	s = strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
	return strings.ToLower(s)
}

// CapitalizeName turns a normalized lowercase name into display form:
// leading capital, particles kept lowercase mid-name, hyphen and apostrophe
// sub-parts capitalized ("col d'allevard" -> "Col d'Allevard",
// "bourg-d'oisans" -> "Bourg-d'Oisans").
func CapitalizeName(normalized string) string {
	if normalized == "" {
		return normalized
	}

	words := strings.Split(normalized, " ")
	outWords := make([]string, 0, len(words))
	first := true

	for _, word := range words {
		hyParts := strings.Split(word, "-")
		outHy := make([]string, 0, len(hyParts))
		for _, h := range hyParts {
			if pre, post, found := strings.Cut(h, "'"); found {
				preFmt := pre
				if first || !isParticle(pre) {
					preFmt = capFirst(pre)
				}
				outHy = append(outHy, preFmt+"'"+capFirst(post))
			} else if first || !isParticle(h) {
				outHy = append(outHy, capFirst(h))
			} else {
				outHy = append(outHy, h)
			}
			first = false
		}
		outWords = append(outWords, strings.Join(outHy, "-"))
	}
	return strings.Join(outWords, " ")
}

func isParticle(s string) bool {
	_, ok := particles[s]
	return ok
}

func capFirst(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	return strings.ToUpper(string(runes[0])) + strings.ToLower(string(runes[1:]))
}
