package alerts

import (
	"fmt"
	"strconv"
	"strings"
)

// allowed lists the placeholders each template kind may reference.
var allowed = map[Kind][]string{
	KindChannel:   {"channel", "data", "device"},
	KindThreshold: {"tag", "value", "limit", "device"},
}

// TemplateError reports a template that references a placeholder outside
// its kind's allow-list, or leaves a placeholder unterminated.
type TemplateError struct {
	Kind         Kind
	Placeholder  string
	Unterminated bool
}

func (e *TemplateError) Error() string {
	if e.Unterminated {
		return fmt.Sprintf("%s template: unterminated placeholder %q", e.Kind, "{"+e.Placeholder)
	}
	return fmt.Sprintf("%s template: unknown placeholder {%s}", e.Kind, e.Placeholder)
}

// Render substitutes {name} placeholders in tmpl with values. "{{" and "}}"
// render as literal braces; a lone "}" is kept as is. A placeholder may carry
// a conversion and format spec ("{value!s:.1f}"); numeric specs are applied
// to values that parse as numbers and ignored otherwise.
func Render(kind Kind, tmpl string, values map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", &TemplateError{Kind: kind, Placeholder: tmpl[i+1:], Unterminated: true}
			}
			name, spec := splitField(tmpl[i+1 : i+1+end])
			if !isAllowed(kind, name) {
				return "", &TemplateError{Kind: kind, Placeholder: name}
			}
			b.WriteString(applySpec(values[name], spec))
			i += end + 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func isAllowed(kind Kind, name string) bool {
	for _, n := range allowed[kind] {
		if n == name {
			return true
		}
	}
	return false
}

// splitField separates a placeholder into its name and format spec. A
// conversion ("!r") is dropped.
func splitField(field string) (name, spec string) {
	name = field
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name, spec = name[:i], name[i+1:]
	}
	if i := strings.IndexByte(name, '!'); i >= 0 {
		name = name[:i]
	}
	return name, spec
}

// applySpec formats v per a numeric spec of the form [.precision]type with
// type one of f F e E g G %. Anything else leaves v unchanged.
func applySpec(v, spec string) string {
	if spec == "" {
		return v
	}
	verb := spec[len(spec)-1]
	prec := 6
	if p := spec[:len(spec)-1]; p != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(p, "."))
		if !strings.HasPrefix(p, ".") || err != nil || n < 0 {
			return v
		}
		prec = n
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return v
	}
	switch verb {
	case 'f', 'F':
		return strconv.FormatFloat(f, 'f', prec, 64)
	case 'e', 'E':
		return strconv.FormatFloat(f, verb, prec, 64)
	case 'g', 'G':
		if prec == 0 {
			prec = 1
		}
		return strconv.FormatFloat(f, verb, prec, 64)
	case '%':
		return strconv.FormatFloat(f*100, 'f', prec, 64) + "%"
	default:
		return v
	}
}
