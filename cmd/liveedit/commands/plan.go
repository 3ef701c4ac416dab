package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidPlan reports a plan document that failed schema validation.
var ErrInvalidPlan = errors.New("invalid plan document")

// planSchema describes the edit plan document consumed by automation
// around the CLI: the script, the replacement source, the session options,
// and the optional stack snapshot.
const planSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["script", "new_source"],
  "additionalProperties": false,
  "properties": {
    "script": {"type": "string", "minLength": 1},
    "new_source": {"type": "string", "minLength": 1},
    "options": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "force_drop": {"type": "boolean"},
        "keep_old_as": {"type": "string"},
        "check_only": {"type": "boolean"}
      }
    },
    "frames": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["function", "thread", "depth"],
        "additionalProperties": false,
        "properties": {
          "function": {"type": "string", "minLength": 1},
          "thread": {"type": "integer", "minimum": 0},
          "depth": {"type": "integer", "minimum": 0},
          "suspended": {"type": "boolean"},
          "under_native": {"type": "boolean"}
        }
      }
    }
  }
}`

// NewPlanCommand creates the plan command group.
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Work with edit plan documents",
	}

	cmd.AddCommand(newPlanValidateCommand())

	return cmd
}

func newPlanValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate file",
		Short: "Validate an edit plan document against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runPlanValidate(args[0])
		},
	}
}

func runPlanValidate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read plan file: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(planSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("failed to validate plan: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidPlan, strings.Join(problems, "; "))
	}

	fmt.Fprintf(os.Stdout, "%s: valid\n", path)

	return nil
}
