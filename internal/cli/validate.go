package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	File   string           `json:"file"`
	Valid  bool             `json:"valid"`
	Errors []ViolationError `json:"errors,omitempty"`
}

// ViolationError is one schema violation in CLI output.
type ViolationError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

func (r ValidationResult) String() string {
	return fmt.Sprintf("✓ %s is valid", r.File)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a config file against the schema",
		Long: `Validate a docsync YAML config file against the embedded CUE schema
without opening the database. Defaults to the --config path.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := formatter(opts, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			_ = f.Error(ErrCodeNotFound, fmt.Sprintf("config file not found: %s", path), nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("config file not found: %s", path))
		}
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read config", err)
	}
	f.VerboseLog("Validating %s (%d bytes)", path, len(data))

	if err := config.Validate(path, data); err != nil {
		var verr *config.ValidationError
		if !errors.As(err, &verr) {
			_ = f.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "validation failed", err)
		}
		return outputViolations(f, path, verr)
	}

	return f.Success(ValidationResult{File: path, Valid: true})
}

func outputViolations(f *OutputFormatter, path string, verr *config.ValidationError) error {
	res := ValidationResult{File: path}
	for _, v := range verr.Violations {
		res.Errors = append(res.Errors, ViolationError{Path: v.Path, Message: v.Message, Line: v.Line})
	}

	if f.Format == "json" {
		_ = f.Error(ErrCodeConfigInvalid, fmt.Sprintf("%d violation(s) in %s", len(res.Errors), path), res.Errors)
	} else {
		w := f.Writer
		fmt.Fprintf(w, "✗ %s\n", path)
		for _, e := range res.Errors {
			if e.Line > 0 {
				fmt.Fprintf(w, "  line %d: ", e.Line)
			} else {
				fmt.Fprint(w, "  ")
			}
			if e.Path != "" {
				fmt.Fprintf(w, "%s: ", e.Path)
			}
			fmt.Fprintln(w, e.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d violation(s) in %s", len(res.Errors), path))
}
