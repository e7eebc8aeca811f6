// Package skills loads SKILL.md files into a matchable, hot-reloaded
// registry, using the same
// front-matter-then-markdown-body file format, parsed with
// gopkg.in/yaml.v3, watched with fsnotify.
package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentcore/engine/pkg/models"
)

// SkillFilename is the expected filename inside each skill directory.
const SkillFilename = "SKILL.md"

const frontmatterDelimiter = "---"

// frontmatter mirrors the subset of models.Skill that lives in a
// SKILL.md's YAML header.
type frontmatter struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	Triggers    []models.SkillTrigger `yaml:"triggers"`
	Requires    *models.SkillRequires `yaml:"requires"`
}

// ParseFile reads and parses a single SKILL.md at path.
func ParseFile(path string) (*models.Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("skills: read %s: %w", path, err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse parses SKILL.md content discovered at dir.
func Parse(data []byte, dir string) (*models.Skill, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("skills: split frontmatter: %w", err)
	}

	var parsed frontmatter
	if err := yaml.Unmarshal(fm, &parsed); err != nil {
		return nil, fmt.Errorf("skills: parse frontmatter: %w", err)
	}
	if strings.TrimSpace(parsed.Name) == "" {
		return nil, fmt.Errorf("skills: name is required")
	}
	if strings.TrimSpace(parsed.Description) == "" {
		return nil, fmt.Errorf("skills: description is required")
	}

	return &models.Skill{
		ID:           kebab(parsed.Name),
		Name:         parsed.Name,
		Description:  parsed.Description,
		Path:         dir,
		Triggers:     parsed.Triggers,
		Requires:     parsed.Requires,
		Instructions: strings.TrimSpace(string(body)),
		Enabled:      true,
	}, nil
}

// splitFrontmatter separates the YAML header between --- delimiters from
// the markdown body that follows.
func splitFrontmatter(data []byte) (fm, body []byte, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var fmLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		fmLines = append(fmLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scanner error: %w", err)
	}

	return []byte(strings.Join(fmLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

// kebab lowercases and hyphenates a skill name into an id: ASCII letters
// and digits are kept, every other run of characters becomes one hyphen.
func kebab(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteRune('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// RenderInstructions substitutes the {WORKDIR} placeholder with the
// per-trace working directory. The context manager applies it to the active
// skill's instructions; the registry's use_skill reroute returns the
// instructions without it.
func RenderInstructions(instructions, workDir string) string {
	return strings.ReplaceAll(instructions, "{WORKDIR}", workDir)
}
