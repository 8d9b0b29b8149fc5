// Package naming derives filesystem-safe stable names from display names.
package naming

import (
	"errors"
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// ErrEmptyStableName is returned when nothing survives normalization.
var ErrEmptyStableName = errors.New("display name normalizes to an empty stable name")

var disallowed = regexp.MustCompile(`[^\w\d.,%()#_\[\]-]`)

// Normalizer converts display names into stable names.
type Normalizer interface {
	StableName(display string) (string, error)
}

// Transliterator is the default Normalizer: it transliterates to ASCII, turns
// spaces into underscores and drops every character outside the allowed set.
type Transliterator struct{}

// StableName implements Normalizer.
func (Transliterator) StableName(display string) (string, error) {
	name := StableName(display)
	if name == "" {
		return "", ErrEmptyStableName
	}
	return name, nil
}

// StableName normalizes display without error checking.
func StableName(display string) string {
	ascii := unidecode.Unidecode(strings.TrimSpace(display))
	ascii = strings.ReplaceAll(ascii, " ", "_")
	return disallowed.ReplaceAllString(ascii, "")
}
