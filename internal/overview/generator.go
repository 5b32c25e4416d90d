package overview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/schematichub/overview-gateway/internal/adapter"
	"github.com/schematichub/overview-gateway/internal/history"
	"github.com/schematichub/overview-gateway/internal/openai"
	"github.com/schematichub/overview-gateway/internal/prompts"
)

// Input is everything a Generator sees about one commit.
type Input struct {
	Repo   string
	Commit history.Commit
	Files  []string
}

// Overview is the generated text for one commit.
type Overview struct {
	Blurb       string `json:"blurb"`
	Description string `json:"description"`
}

// Generator produces an overview for one commit.
type Generator interface {
	Generate(ctx context.Context, in Input) (Overview, error)
}

// PlaceholderGenerator builds a deterministic overview from the commit
// message and file list without calling a provider.
type PlaceholderGenerator struct{}

// Generate implements Generator.
func (PlaceholderGenerator) Generate(_ context.Context, in Input) (Overview, error) {
	return Overview{
		Blurb:       placeholderBlurb(in.Commit.Message, in.Files),
		Description: placeholderDescription(in.Commit.Message, in.Files),
	}, nil
}

func placeholderBlurb(message string, files []string) string {
	if len(files) == 0 {
		return "Initial schematic commit"
	}
	// An empty message leaves the text after the colon empty.
	words := strings.Fields(message)
	if len(words) > 5 {
		words = words[:5]
	}
	return fmt.Sprintf("Schematic changes in %d file(s): %s", len(files), strings.Join(words, " "))
}

func placeholderDescription(message string, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Commit message: %s\nChanged files:\n", message)
	for _, f := range files {
		fmt.Fprintf(&b, "  - %s\n", f)
	}
	return b.String()
}

// ProviderGenerator asks a chat provider for the overview, single shot.
type ProviderGenerator struct {
	Adapter adapter.ChatAdapter
	Model   string
	Prompt  prompts.Prompt
}

// Generate implements Generator. Provider errors are returned unwrapped so
// their description reaches the batch report verbatim.
func (g *ProviderGenerator) Generate(ctx context.Context, in Input) (Overview, error) {
	if g.Adapter == nil {
		return Overview{}, errors.New("overview: no provider configured")
	}
	user := prompts.Render(g.Prompt.User, map[string]string{
		"repo":    history.RepoKey(in.Repo),
		"commit":  in.Commit.Hash,
		"message": in.Commit.Message,
		"files":   fileList(in.Files),
		"url":     fmt.Sprintf("https://github.com/%s/commit/%s", history.RepoKey(in.Repo), in.Commit.Hash),
	})
	req := openai.ChatCompletionRequest{Model: g.Model}
	if strings.TrimSpace(g.Prompt.System) != "" {
		req.Messages = append(req.Messages, openai.SystemMessage(g.Prompt.System))
	}
	req.Messages = append(req.Messages, openai.UserMessage(user))

	resp, err := g.Adapter.CreateCompletion(ctx, req)
	if err != nil {
		return Overview{}, err
	}
	content, ok := resp.FirstContent()
	if !ok || strings.TrimSpace(content) == "" {
		return Overview{}, errors.New("overview: provider returned an empty reply")
	}
	return ParseReply(content), nil
}

// ParseReply reads a provider reply as {"blurb","description"} JSON,
// tolerating a fenced code block. Anything else falls back to first line as
// blurb and the whole reply as description.
func ParseReply(content string) Overview {
	text := strings.TrimSpace(content)
	if inner, ok := strings.CutPrefix(text, "```"); ok {
		inner = strings.TrimPrefix(inner, "json")
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(inner), "```"))
	}
	var ov Overview
	if err := json.Unmarshal([]byte(text), &ov); err == nil && strings.TrimSpace(ov.Blurb) != "" {
		ov.Blurb = strings.TrimSpace(ov.Blurb)
		if strings.TrimSpace(ov.Description) == "" {
			ov.Description = ov.Blurb
		}
		return ov
	}

	trimmed := strings.TrimSpace(content)
	blurb := trimmed
	for _, line := range strings.Split(trimmed, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			blurb = line
			break
		}
	}
	return Overview{Blurb: blurb, Description: trimmed}
}

func fileList(files []string) string {
	if len(files) == 0 {
		return "  (none)"
	}
	lines := make([]string, len(files))
	for i, f := range files {
		lines[i] = "  - " + f
	}
	return strings.Join(lines, "\n")
}
