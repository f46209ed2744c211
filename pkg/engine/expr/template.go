package expr

import (
	"strings"

	"github.com/Scopeo/draftnrun/pkg/domain"
)

// ParseTemplate normalizes a legacy bracket-template string into a field
// expression. References take the form {{@instanceId.port}} with an
// optional trailing .key; dots after the port belong to the key. A string
// that is exactly one reference becomes a Ref and keeps the referenced
// value's type; text mixed with references becomes a Concat; text without
// references stays a Literal. Brace pairs not starting with @ and
// malformed reference bodies are ordinary template content, never errors.
func ParseTemplate(s string) domain.FieldExpression {
	var parts []domain.FieldExpression
	var text strings.Builder

	flush := func() {
		if text.Len() > 0 {
			parts = append(parts, domain.Literal{Value: text.String()})
			text.Reset()
		}
	}

	pos := 0
	for pos < len(s) {
		open := strings.Index(s[pos:], "{{")
		if open < 0 {
			text.WriteString(s[pos:])
			break
		}
		open += pos
		closing := strings.Index(s[open+2:], "}}")
		if closing < 0 {
			text.WriteString(s[pos:])
			break
		}
		closing += open + 2

		body := strings.TrimSpace(s[open+2 : closing])
		ref, ok := parseRefBody(body)
		if !ok {
			// Not a reference marker; keep the braces verbatim.
			text.WriteString(s[pos : closing+2])
			pos = closing + 2
			continue
		}

		text.WriteString(s[pos:open])
		flush()
		parts = append(parts, ref)
		pos = closing + 2
	}
	flush()

	switch len(parts) {
	case 0:
		return domain.Literal{Value: ""}
	case 1:
		return parts[0]
	default:
		return domain.Concat{Parts: parts}
	}
}

func parseRefBody(body string) (domain.Ref, bool) {
	if !strings.HasPrefix(body, "@") {
		return domain.Ref{}, false
	}
	segments := strings.Split(body[1:], ".")
	if len(segments) < 2 {
		return domain.Ref{}, false
	}
	ref := domain.Ref{InstanceID: segments[0], Port: segments[1]}
	if len(segments) > 2 {
		ref.Key = strings.Join(segments[2:], ".")
	}
	if ref.InstanceID == "" || ref.Port == "" {
		return domain.Ref{}, false
	}
	return ref, true
}
