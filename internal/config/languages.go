package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// LanguageList is an operator-supplied list of language codes. It accepts
// either a structured list or a single string delimited by commas,
// semicolons, pipes or whitespace, and is normalized once at decode time.
type LanguageList []string

// ParseLanguageList splits s on any supported delimiter.
func ParseLanguageList(s string) LanguageList {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', ';', '|', ' ', '\t', '\n', '\r':
			return true
		}
		return false
	})
	return normalizeList(fields)
}

// UnmarshalText implements encoding.TextUnmarshaler for env decoding.
func (l *LanguageList) UnmarshalText(text []byte) error {
	*l = ParseLanguageList(string(text))
	return nil
}

// UnmarshalYAML accepts both `languages: [en, de]` and `languages: "en, de"`.
func (l *LanguageList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = ParseLanguageList(node.Value)
		return nil
	case yaml.SequenceNode:
		var raw []string
		if err := node.Decode(&raw); err != nil {
			return err
		}
		// Items may themselves be delimited strings.
		var out []string
		for _, r := range raw {
			out = append(out, ParseLanguageList(r)...)
		}
		*l = normalizeList(out)
		return nil
	default:
		return fmt.Errorf("languages: expected a list or a string, got yaml kind %d", node.Kind)
	}
}

func normalizeList(in []string) LanguageList {
	seen := make(map[string]struct{}, len(in))
	out := make(LanguageList, 0, len(in))
	for _, code := range in {
		code = strings.ToLower(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}
