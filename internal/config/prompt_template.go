package config

import (
	"os"
	"regexp"
	"strings"
)

var (
	ifBlockPattern = regexp.MustCompile(`(?s)\{\{#if (\w+)\}\}(.*?)\{\{/if\}\}`)
	varPattern     = regexp.MustCompile(`\{\{(\w+)\}\}`)
)

// RenderSystemPromptTemplate substitutes {{var}} references and evaluates
// {{#if var}}...{{/if}} blocks against vars, where a var counts as truthy
// when its value is non-empty. This is a small purpose-built substitution
// pass rather than text/template: the grammar is narrow enough that a
// general template engine would add more surface than it saves.
func RenderSystemPromptTemplate(raw string, vars map[string]string) string {
	out := ifBlockPattern.ReplaceAllStringFunc(raw, func(match string) string {
		groups := ifBlockPattern.FindStringSubmatch(match)
		name, body := groups[1], groups[2]
		if strings.TrimSpace(vars[name]) == "" {
			return ""
		}
		return body
	})
	out = varPattern.ReplaceAllStringFunc(out, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		return vars[name]
	})
	return out
}

// LoadSystemPrompt reads and renders the template at path. If path is
// empty, fallback is rendered instead so callers always get a usable
// system prompt even with no template file configured.
func LoadSystemPrompt(path, fallback string, vars map[string]string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return RenderSystemPromptTemplate(fallback, vars), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return RenderSystemPromptTemplate(string(data), vars), nil
}
