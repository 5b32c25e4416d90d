package prompts

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompt is a system/user message pair. User may contain {{name}}
// placeholders filled by Render.
type Prompt struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Catalog holds every prompt the gateway sends upstream.
type Catalog struct {
	Chat           Prompt `yaml:"chat"`
	CommitSummary  Prompt `yaml:"commit_summary"`
	CommitOverview Prompt `yaml:"commit_overview"`
}

// Default returns the built-in catalogue.
func Default() *Catalog {
	return &Catalog{
		Chat: Prompt{
			System: "You are Grok, an expert AI assistant specialized in electronics and PCB design. " +
				"You help users understand KiCad schematics, components, and circuit design. " +
				"Be concise but informative. Use technical terms when appropriate.",
			User: "Give me a brief overview of what to look for when reviewing a KiCad schematic for an embedded system.",
		},
		CommitSummary: Prompt{
			System: "You are a helpful assistant",
			User:   "Search online for the changes in the commit {{url}} and summarize the changes",
		},
		CommitOverview: Prompt{
			System: "You review KiCad schematic commits. Reply with a JSON object containing two string fields: " +
				`"blurb" (one short sentence) and "description" (a few paragraphs on what changed in the circuit).`,
			User: "Repository: {{repo}}\nCommit: {{commit}}\nMessage: {{message}}\nChanged schematic files:\n{{files}}",
		},
	}
}

// Load reads a YAML catalogue from path on top of the defaults, so a file
// only needs the prompts it overrides. An empty path returns Default().
func Load(path string) (*Catalog, error) {
	catalog := Default()
	if strings.TrimSpace(path) == "" {
		return catalog, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, catalog); err != nil {
		return nil, fmt.Errorf("parse prompts file %s: %w", path, err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("prompts file %s: %w", path, err)
	}
	return catalog, nil
}

// Validate rejects prompts with an empty user message.
func (c *Catalog) Validate() error {
	for name, p := range map[string]Prompt{
		"chat":            c.Chat,
		"commit_summary":  c.CommitSummary,
		"commit_overview": c.CommitOverview,
	} {
		if strings.TrimSpace(p.User) == "" {
			return fmt.Errorf("prompt %q has an empty user message", name)
		}
	}
	return nil
}

// Render substitutes {{key}} placeholders in tmpl. Unknown placeholders are
// left as they are.
func Render(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(vars)*2)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
