// Package prompt fills ${name} placeholders in system prompts.
//
// Prompts are usually configured text, so an unknown placeholder is an error
// instead of being sent to the model verbatim:
//
//	text, err := prompt.Render("You are the front desk of ${hotel}.", map[string]any{
//	    "hotel": "Harbor View",
//	})
//	// text: "You are the front desk of Harbor View."
//
// Only the brace form is recognized, so prices like "$25" and shell-like text
// pass through untouched.
package prompt

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// placeholder matches ${name}; name can contain alphanumerics and underscores.
var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// UndefinedVariableError is returned when a prompt names variables that are
// not provided.
type UndefinedVariableError struct {
	// Names lists the undefined variables in order of first use.
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined prompt variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined prompt variables: %s", strings.Join(e.Names, ", "))
}

// Render replaces every ${name} in text with vars[name], formatted with %v.
func Render(text string, vars map[string]any) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-1]
		if val, ok := vars[name]; ok {
			return fmt.Sprintf("%v", val)
		}
		if !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		return match
	})
	if len(missing) > 0 {
		return out, &UndefinedVariableError{Names: missing}
	}
	return out, nil
}

// MustRender is Render for prompts known to be complete. It panics on error.
func MustRender(text string, vars map[string]any) string {
	out, err := Render(text, vars)
	if err != nil {
		panic(fmt.Sprintf("prompt: %v", err))
	}
	return out
}

// Vars returns the distinct variable names text uses, in order of first use.
func Vars(text string) []string {
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return names
}
