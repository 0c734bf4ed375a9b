package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aservis/maestro/pkg/protocol"
)

// CommandHelp builds the command_help prompt from the classifier's phrase
// table. Given an optional intent argument it narrows the listing to that
// intent; without one it covers everything the daemon understands.
func CommandHelp(intents []string, phrases map[string][]string) Prompt {
	return Prompt{
		Name:        "command_help",
		Description: "Examples of natural-language commands this daemon understands",
		Arguments: []protocol.PromptArgument{
			{Name: "intent", Description: "Limit examples to one intent", Required: false},
		},
		Render: func(args map[string]string) (protocol.GetPromptResult, error) {
			selected := intents
			if want := args["intent"]; want != "" {
				if _, known := phrases[want]; !known {
					return protocol.GetPromptResult{}, fmt.Errorf("%w: unknown intent %q", ErrRejected, want)
				}
				selected = []string{want}
			}

			var b strings.Builder
			b.WriteString("You can ask maestro things like:\n")
			for _, intent := range selected {
				examples := append([]string(nil), phrases[intent]...)
				if len(examples) == 0 {
					continue
				}
				sort.Strings(examples)
				fmt.Fprintf(&b, "\n%s:\n", intent)
				for _, ex := range examples {
					fmt.Fprintf(&b, "  - %s\n", renderPhrase(ex))
				}
			}

			return protocol.GetPromptResult{
				Description: "Supported command phrases",
				Messages: []protocol.PromptMessage{
					{Role: "user", Content: protocol.ContentBlock{Type: "text", Text: b.String()}},
				},
			}, nil
		},
	}
}

// renderPhrase rewrites slot markers like <level:int> into reader-friendly
// placeholders like <level>.
func renderPhrase(phrase string) string {
	fields := strings.Fields(phrase)
	for i, f := range fields {
		if strings.HasPrefix(f, "<") && strings.HasSuffix(f, ">") {
			inner := strings.TrimSuffix(strings.TrimPrefix(f, "<"), ">")
			if name, _, found := strings.Cut(inner, ":"); found {
				fields[i] = "<" + name + ">"
			}
		}
	}
	return strings.Join(fields, " ")
}
