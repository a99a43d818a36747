package commands

import (
	"strings"

	"github.com/framestep/tasbridge/pkg/studioproto"
)

// SetAutoComplete suggests completions for argument index of a Set command.
// argsText is the text after "Set, ".
func (v *Vocabulary) SetAutoComplete(argsText string, index int) []studioproto.AutoCompleteEntry {
	args := splitArgs(argsText)
	if index == 0 {
		return completeNames(v.targets.FieldNames(), argAt(args, 0), func(name string) string {
			f, _ := v.targets.Field(name)
			return f.Kind.String()
		})
	}

	field, ok := v.targets.Field(argAt(args, 0))
	if !ok {
		return nil
	}
	return completeValue(field.Kind, index-1)
}

// InvokeAutoComplete suggests completions for argument index of an Invoke command.
func (v *Vocabulary) InvokeAutoComplete(argsText string, index int) []studioproto.AutoCompleteEntry {
	args := splitArgs(argsText)
	if index == 0 {
		return completeNames(v.targets.MethodNames(), argAt(args, 0), func(name string) string {
			m, _ := v.targets.Method(name)
			return paramSignature(m.Params)
		})
	}

	method, ok := v.targets.Method(argAt(args, 0))
	if !ok {
		return nil
	}

	// Map the textual index onto the parameter it belongs to.
	pos := index - 1
	for _, kind := range method.Params {
		if pos < kind.width() {
			return completeValue(kind, pos)
		}
		pos -= kind.width()
	}
	return nil
}

func splitArgs(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

// completeNames lists the next dotted segment of every name under the typed
// prefix. Groups are not done, leaves are.
func completeNames(names []string, typed string, extra func(string) string) []studioproto.AutoCompleteEntry {
	prefix := ""
	if i := strings.LastIndexByte(typed, '.'); i >= 0 {
		prefix = typed[:i+1]
	}

	var entries []studioproto.AutoCompleteEntry
	seen := make(map[string]bool)
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := name[len(prefix):]
		if seg, _, group := strings.Cut(rest, "."); group {
			if !seen[seg+"."] {
				seen[seg+"."] = true
				entries = append(entries, studioproto.AutoCompleteEntry{Name: seg, Prefix: prefix})
			}
			continue
		}
		if !seen[rest] {
			seen[rest] = true
			entries = append(entries, studioproto.AutoCompleteEntry{Name: rest, Prefix: prefix, Extra: extra(name), IsDone: true})
		}
	}
	return entries
}

func completeValue(kind Kind, pos int) []studioproto.AutoCompleteEntry {
	switch kind {
	case KindBool:
		return []studioproto.AutoCompleteEntry{
			{Name: "true", Extra: kind.String(), IsDone: true},
			{Name: "false", Extra: kind.String(), IsDone: true},
		}
	case KindVector2:
		axis := "x"
		if pos == 1 {
			axis = "y"
		}
		return []studioproto.AutoCompleteEntry{{Name: "", Extra: "Vector2." + axis}}
	default:
		return []studioproto.AutoCompleteEntry{{Name: "", Extra: kind.String()}}
	}
}

func paramSignature(params []Kind) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
