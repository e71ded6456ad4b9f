package ingest

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const slugMaxLength = 96

// Latin transliterations for Cyrillic letters. Covers the alphabet of the
// Russian-language sources we ingest.
var cyrillicTranslit = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "yo",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch",
	'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
}

// Slugify derives a URL-safe slug from a title: Cyrillic transliterated,
// diacritics dropped, everything else collapsed to single hyphens, bounded
// in length. Uniqueness is the caller's concern.
func Slugify(title string) string {
	lowered := strings.ToLower(title)

	// Transliterate before normalization: NFD would decompose letters like
	// "й" into a base rune plus combining mark and lose the distinction.
	var translit strings.Builder
	for _, r := range lowered {
		if latin, ok := cyrillicTranslit[r]; ok {
			translit.WriteString(latin)
		} else {
			translit.WriteRune(r)
		}
	}

	// NFD exposes combining marks so accented Latin letters reduce to
	// their base form.
	decomposed, _, err := transform.String(transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	), translit.String())
	if err != nil {
		decomposed = translit.String()
	}

	var b strings.Builder
	lastHyphen := true
	for _, r := range decomposed {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > slugMaxLength {
		slug = strings.Trim(slug[:slugMaxLength], "-")
	}

	return slug
}
