// Package pathtmpl renders declarative path and filename templates against
// item metadata. Templates interleave static text with brace-delimited blocks;
// a block renders only when every variable it references has a value, so
// optional segments like "{Series/}" disappear cleanly for standalone titles.
package pathtmpl

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxComponentLength caps each rendered path component to stay under common
// filesystem limits.
const maxComponentLength = 200

// Variables recognized inside template blocks. Lookup is case-insensitive.
var knownVariables = []string{
	"Author",
	"Title",
	"Series",
	"SeriesPart",
	"Year",
	"Narrator",
	"ASIN",
}

var variableLookup = func() map[string]string {
	lookup := make(map[string]string, len(knownVariables))
	for _, name := range knownVariables {
		lookup[strings.ToLower(name)] = name
	}
	return lookup
}()

// KnownVariables returns the variable names templates may reference.
func KnownVariables() []string {
	cp := make([]string, len(knownVariables))
	copy(cp, knownVariables)
	return cp
}

// Vars is the variable bag a template renders against. Keys are canonical
// variable names as returned by KnownVariables.
type Vars map[string]string

func (v Vars) value(name string) string {
	return strings.TrimSpace(v[name])
}

// blockPart is one piece of a brace block: either literal text or a variable
// reference.
type blockPart struct {
	literal  string
	variable string
}

type node struct {
	literal string
	parts   []blockPart
	block   bool
}

// Template is a parsed, validated path template.
type Template struct {
	raw   string
	nodes []node
}

var (
	// ErrEmptyTemplate indicates a blank or whitespace-only template.
	ErrEmptyTemplate = errors.New("template is empty")
	// ErrAbsolutePath indicates the template would escape the library root.
	ErrAbsolutePath = errors.New("template must not be an absolute path")
	// ErrUnbalancedBraces indicates mismatched block delimiters.
	ErrUnbalancedBraces = errors.New("unbalanced braces in template")
	// ErrNoVariable indicates a block that references no recognized variable.
	ErrNoVariable = errors.New("block references no recognized variable")
	// ErrInvalidCharacter indicates illegal characters in static template text.
	ErrInvalidCharacter = errors.New("template contains invalid characters")
	// ErrSeparatorInFilename indicates a path separator in a filename template.
	ErrSeparatorInFilename = errors.New("filename template must not contain path separators")
)

// Parse validates and compiles a path template.
func Parse(raw string) (*Template, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyTemplate
	}
	if strings.HasPrefix(strings.TrimSpace(raw), "/") || hasDrivePrefix(raw) {
		return nil, ErrAbsolutePath
	}

	var nodes []node
	var literal strings.Builder
	runes := []rune(raw)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes) && (runes[i+1] == '{' || runes[i+1] == '}'):
			literal.WriteRune(runes[i+1])
			i++
		case r == '{':
			if literal.Len() > 0 {
				if err := checkStaticText(literal.String()); err != nil {
					return nil, err
				}
				nodes = append(nodes, node{literal: literal.String()})
				literal.Reset()
			}
			block, consumed, err := parseBlock(runes[i+1:])
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, block)
			i += consumed
		case r == '}':
			return nil, ErrUnbalancedBraces
		default:
			literal.WriteRune(r)
		}
	}
	if literal.Len() > 0 {
		if err := checkStaticText(literal.String()); err != nil {
			return nil, err
		}
		nodes = append(nodes, node{literal: literal.String()})
	}
	return &Template{raw: raw, nodes: nodes}, nil
}

// parseBlock consumes the interior of a brace block, returning the block node
// and the number of runes consumed including the closing brace.
func parseBlock(runes []rune) (node, int, error) {
	var parts []blockPart
	var literal strings.Builder
	var word strings.Builder
	hasVariable := false

	flushWord := func() {
		if word.Len() == 0 {
			return
		}
		text := word.String()
		if canonical, ok := variableLookup[strings.ToLower(text)]; ok {
			if literal.Len() > 0 {
				parts = append(parts, blockPart{literal: literal.String()})
				literal.Reset()
			}
			parts = append(parts, blockPart{variable: canonical})
			hasVariable = true
		} else {
			literal.WriteString(text)
		}
		word.Reset()
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes) && (runes[i+1] == '{' || runes[i+1] == '}'):
			flushWord()
			literal.WriteRune(runes[i+1])
			i++
		case r == '}':
			flushWord()
			if literal.Len() > 0 {
				parts = append(parts, blockPart{literal: literal.String()})
			}
			if !hasVariable {
				return node{}, 0, fmt.Errorf("%w: {%s}", ErrNoVariable, string(runes[:i]))
			}
			return node{parts: parts, block: true}, i + 1, nil
		case r == '{':
			return node{}, 0, ErrUnbalancedBraces
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flushWord()
			literal.WriteRune(r)
		}
	}
	return node{}, 0, ErrUnbalancedBraces
}

func hasDrivePrefix(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < 2 {
		return false
	}
	first := rune(trimmed[0])
	return trimmed[1] == ':' && unicode.IsLetter(first)
}

// checkStaticText rejects characters that would be stripped from values;
// static text is the author's own writing and must be clean up front.
func checkStaticText(text string) error {
	if i := strings.IndexAny(text, `<>:"|?*`+"\\"); i >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidCharacter, text[i:i+1])
	}
	return nil
}

// Render substitutes variables and applies the path post-processing rules.
// A block renders in full only when every variable it references is non-empty;
// otherwise the whole block, literal text included, is omitted.
func (t *Template) Render(vars Vars) string {
	var out strings.Builder
	for _, n := range t.nodes {
		if !n.block {
			out.WriteString(n.literal)
			continue
		}
		rendered, ok := renderBlock(n, vars)
		if ok {
			out.WriteString(rendered)
		}
	}
	return sanitizePath(out.String())
}

func renderBlock(n node, vars Vars) (string, bool) {
	var out strings.Builder
	for _, part := range n.parts {
		if part.variable == "" {
			out.WriteString(part.literal)
			continue
		}
		value := vars.value(part.variable)
		if value == "" {
			return "", false
		}
		out.WriteString(sanitizeValue(value))
	}
	return out.String(), true
}

// sanitizeValue strips characters illegal in path components from substituted
// values. Separators are removed too so a value can never create or escape a
// directory level.
func sanitizeValue(value string) string {
	var out strings.Builder
	out.Grow(len(value))
	for _, r := range value {
		switch r {
		case '<', '>', ':', '"', '|', '?', '*', '\\', '/':
		default:
			out.WriteRune(r)
		}
	}
	return out.String()
}

// sanitizePath applies the post-substitution invariants: collapse separators,
// strip leading/trailing ones, normalize whitespace and dots per component,
// and cap component length.
func sanitizePath(rendered string) string {
	components := strings.Split(rendered, "/")
	cleaned := make([]string, 0, len(components))
	for _, component := range components {
		component = collapseWhitespace(component)
		component = strings.Trim(component, ". ")
		if component == "" {
			continue
		}
		// Cap in runes, not bytes, so truncation never splits a multi-byte
		// character.
		if utf8.RuneCountInString(component) > maxComponentLength {
			runes := []rune(component)
			component = strings.TrimRight(string(runes[:maxComponentLength]), ". ")
		}
		cleaned = append(cleaned, component)
	}
	return strings.Join(cleaned, "/")
}

func collapseWhitespace(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				out.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		out.WriteRune(r)
	}
	return out.String()
}

// Render parses and renders in one call.
func Render(template string, vars Vars) (string, error) {
	parsed, err := Parse(template)
	if err != nil {
		return "", err
	}
	return parsed.Render(vars), nil
}

// Validate reports whether a path template is well formed.
func Validate(template string) error {
	_, err := Parse(template)
	return err
}

// ValidateFilename reports whether a filename template is well formed. On top
// of the path rules it rejects any path separator.
func ValidateFilename(template string) error {
	if strings.ContainsAny(template, "/") {
		return ErrSeparatorInFilename
	}
	return Validate(template)
}

// RenderFilename renders a filename template to a single path component.
func RenderFilename(template string, vars Vars) (string, error) {
	if err := ValidateFilename(template); err != nil {
		return "", err
	}
	rendered, err := Render(template, vars)
	if err != nil {
		return "", err
	}
	return rendered, nil
}
