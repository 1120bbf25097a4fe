package common

import (
	"regexp"
	"strings"

	"tenantcore/internal/apperr"
)

const maxSlugLength = 50

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

	accentReplacer = strings.NewReplacer(
		"á", "a", "à", "a", "â", "a", "ã", "a", "ä", "a", "å", "a",
		"é", "e", "è", "e", "ê", "e", "ë", "e",
		"í", "i", "ì", "i", "î", "i", "ï", "i",
		"ó", "o", "ò", "o", "ô", "o", "õ", "o", "ö", "o",
		"ú", "u", "ù", "u", "û", "u", "ü", "u",
		"ç", "c", "ñ", "n", "ß", "ss",
	)
)

// Slugify derives a url-safe slug from a display name. Letters outside
// ASCII that have no plain equivalent are dropped.
func Slugify(name string) string {
	s := accentReplacer.Replace(strings.ToLower(strings.TrimSpace(name)))

	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			dash = false
		case r == ' ' || r == '-' || r == '_' || r == '.' || r == '/' || r == '&':
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return "tenant"
	}
	return slug
}

func ValidateSlug(slug string) error {
	if slug == "" {
		return apperr.Validation("slug", "slug is required")
	}
	if len(slug) > maxSlugLength+6 {
		return apperr.Validation("slug", "slug is too long")
	}
	if !slugPattern.MatchString(slug) {
		return apperr.Validation("slug", "slug may contain lowercase letters, digits and single dashes only")
	}
	return nil
}
