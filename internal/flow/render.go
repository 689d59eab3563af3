package flow

import (
	"strconv"
	"strings"
)

// Render substitutes {{placeholders}} in a node's text. {{name}} resolves
// to the contact's display name; every captured flow-context entry is
// available under its own key. Unknown placeholders are left as-is.
func Render(text, contactName string, vars map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	out := strings.ReplaceAll(text, "{{name}}", contactName)
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

// RenderMenu formats a choice node as a numbered menu: the prompt text
// followed by one line per option.
func RenderMenu(n *Node, contactName string, vars map[string]string) string {
	var b strings.Builder
	if n.Text != "" {
		b.WriteString(Render(n.Text, contactName, vars))
	}
	for i, opt := range n.Options {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("[ ")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(" ] - ")
		b.WriteString(opt.Label)
	}
	return b.String()
}
