// Package language decides which languages content is planned in.
package language

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/presswire/contentqueue/internal/domain"
)

// Fallback is used when no other source yields a language.
const Fallback = "en"

// Host describes the publishing host's language setup.
type Host interface {
	// ActiveLanguages returns the host's configured languages and whether a
	// multilingual configuration is active at all.
	ActiveLanguages() ([]string, bool)
	// Locale returns the host's single active locale, e.g. "de_DE".
	Locale() string
}

// StaticHost is a Host read from configuration.
type StaticHost struct {
	Languages []string
	LocaleTag string
}

func (h StaticHost) ActiveLanguages() ([]string, bool) {
	return h.Languages, len(h.Languages) > 0
}

func (h StaticHost) Locale() string { return h.LocaleTag }

// Resolver applies the language resolution chain:
// context languages, active host languages, operator defaults, host locale, "en".
type Resolver struct {
	host      Host
	defaults  []string
	supported map[string]struct{}
}

// NewResolver builds a Resolver. host may be nil. When supported is not
// empty, codes outside it are dropped at every step.
func NewResolver(host Host, defaults, supported []string) *Resolver {
	r := &Resolver{host: host, defaults: Normalize(defaults...)}
	if s := Normalize(supported...); len(s) > 0 {
		r.supported = make(map[string]struct{}, len(s))
		for _, code := range s {
			r.supported[code] = struct{}{}
		}
	}
	return r
}

// Resolve returns the normalized, de-duplicated languages for c. The first
// step that yields at least one usable code wins.
func (r *Resolver) Resolve(c *domain.Context) []string {
	var steps [][]string
	if c != nil {
		steps = append(steps, c.Languages)
	}
	if r.host != nil {
		// Host languages only count when multilingual setup is active; the
		// host locale is never substituted here.
		if langs, active := r.host.ActiveLanguages(); active {
			steps = append(steps, langs)
		}
	}
	steps = append(steps, r.defaults)
	if r.host != nil {
		steps = append(steps, []string{r.host.Locale()})
	}

	for _, step := range steps {
		if out := r.filter(Normalize(step...)); len(out) > 0 {
			return out
		}
	}
	return []string{Fallback}
}

// IsSupported reports whether code normalizes to a usable language.
func (r *Resolver) IsSupported(code string) bool {
	base, err := NormalizeCode(code)
	if err != nil {
		return false
	}
	if r.supported == nil {
		return true
	}
	_, ok := r.supported[base]
	return ok
}

func (r *Resolver) filter(codes []string) []string {
	if r.supported == nil {
		return codes
	}
	out := codes[:0]
	for _, c := range codes {
		if _, ok := r.supported[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// NormalizeCode maps a language tag or locale ("de_DE", "pt-BR", "EN") to its
// base ISO 639 code.
func NormalizeCode(code string) (string, error) {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	if code == "" {
		return "", fmt.Errorf("%w: empty", domain.ErrInvalidLanguage)
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", domain.ErrInvalidLanguage, code, err)
	}
	base, conf := tag.Base()
	if conf == language.No || base.String() == "und" {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidLanguage, code)
	}
	return base.String(), nil
}

// Normalize maps codes to base ISO codes, dropping invalid entries and
// duplicates while keeping first-seen order.
func Normalize(codes ...string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		base, err := NormalizeCode(c)
		if err != nil {
			continue
		}
		if _, dup := seen[base]; dup {
			continue
		}
		seen[base] = struct{}{}
		out = append(out, base)
	}
	return out
}
