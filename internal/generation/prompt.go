package generation

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/phrazzld/scry-swarm/internal/domain"
)

// excerptLength bounds how much of each existing component is quoted back
// to the model.
const excerptLength = 150

var promptFrame = template.Must(template.New("component").Parse(`You are analyzing {{.SubjectName}}.

SUBJECT DETAILS:
{{if .Context}}{{.Context}}{{else}}None provided{{end}}

EXISTING ANALYSIS COMPONENTS:
{{range $type, $text := .Existing}}- {{$type}}: {{$text}}
{{else}}None yet - this is a foundation component
{{end}}
Generate a {{.Component}} analysis that is consistent with the existing components.
{{.Instructions}}
`))

type promptData struct {
	SubjectName  string
	Context      string
	Component    domain.ComponentType
	Existing     map[domain.ComponentType]string
	Instructions string
}

// RenderPrompt builds the full model prompt for req.
func RenderPrompt(req Request) (string, error) {
	if !req.Component.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownComponent, req.Component)
	}
	name := strings.TrimSpace(req.SubjectName)
	if name == "" {
		name = "an unnamed subject"
	}

	existing := make(map[domain.ComponentType]string, len(req.Existing))
	for t, text := range req.Existing {
		if t == req.Component {
			continue
		}
		existing[t] = excerpt(text)
	}

	data := promptData{
		SubjectName:  name,
		Context:      strings.TrimSpace(string(req.Context)),
		Component:    req.Component,
		Existing:     existing,
		Instructions: strings.TrimSpace(req.Params.Prompt),
	}

	var buf bytes.Buffer
	if err := promptFrame.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

func excerpt(text string) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) <= excerptLength {
		return text
	}
	return string(r[:excerptLength]) + "..."
}
