// Package validate checks that generated component source parses as a
// TSX module. Only syntax is checked; imports are never resolved.
package validate

import (
	"github.com/evanw/esbuild/pkg/api"

	perrors "github.com/p-blackswan/appforge/internal/errors"
)

// SourceFile is the file name reported in parse diagnostics.
const SourceFile = "App.tsx"

const tsconfig = `{"compilerOptions":{"strict":true,"alwaysStrict":true,"jsx":"react-jsx"}}`

// Validator parses source under a fixed configuration: TSX loader, automatic
// JSX runtime, ES2022 target, ES module output, strict mode.
type Validator struct {
	opts api.TransformOptions
}

// New returns a Validator. It holds no external state and is safe for
// concurrent use.
func New() *Validator {
	return &Validator{opts: api.TransformOptions{
		Loader:      api.LoaderTSX,
		JSX:         api.JSXAutomatic,
		Target:      api.ES2022,
		Format:      api.FormatESModule,
		Sourcefile:  SourceFile,
		TsconfigRaw: tsconfig,
		LogLevel:    api.LogLevelSilent,
	}}
}

// Validate returns nil when source parses, or a *SyntaxValidationError
// listing every parse diagnostic.
func (v *Validator) Validate(source string) error {
	result := api.Transform(source, v.opts)
	if len(result.Errors) == 0 {
		return nil
	}
	diags := make([]perrors.Diagnostic, 0, len(result.Errors))
	for _, msg := range result.Errors {
		d := perrors.Diagnostic{Message: msg.Text}
		if loc := msg.Location; loc != nil {
			d.Line = loc.Line
			d.Column = loc.Column + 1
		}
		diags = append(diags, d)
	}
	return &perrors.SyntaxValidationError{Diagnostics: diags}
}
