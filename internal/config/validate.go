package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// Violation is one schema violation.
type Violation struct {
	Path    string
	Message string
	Line    int
}

// ValidationError lists every schema violation of a config file.
type ValidationError struct {
	File       string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid config %s", e.File)
	for _, v := range e.Violations {
		b.WriteString("\n  ")
		if v.Line > 0 {
			fmt.Fprintf(&b, "line %d: ", v.Line)
		}
		if v.Path != "" {
			fmt.Fprintf(&b, "%s: ", v.Path)
		}
		b.WriteString(v.Message)
	}
	return b.String()
}

// Validate checks YAML data against the embedded schema.
func Validate(filename string, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return &ValidationError{File: filename, Violations: []Violation{{Message: err.Error()}}}
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return &ValidationError{File: filename, Violations: violations(filename, err)}
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{File: filename, Violations: violations(filename, err)}
	}
	return nil
}

func violations(filename string, err error) []Violation {
	var out []Violation
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, Violation{
			Path:    strings.TrimPrefix(strings.Join(e.Path(), "."), "#Config."),
			Message: fmt.Sprintf(format, args...),
			Line:    lineIn(filename, cueerrors.Positions(e)),
		})
	}
	return out
}

// lineIn returns the first position inside the config file, ignoring
// positions in the schema.
func lineIn(filename string, positions []token.Pos) int {
	for _, p := range positions {
		if p.IsValid() && p.Filename() == filename {
			return p.Line()
		}
	}
	return 0
}
