// Package validator checks data crossing a boundary against CUE contracts:
// circuit documents on the way in, fact tables on the way to the policy
// engine, and check reports on the way out.
//
// A failed validation is a bug at the producer. Fix the producer or the
// schema; never suppress the error.
package validator

import (
	"embed"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed circuit_schema.cue
var circuitSchemaFS embed.FS

//go:embed output_schema.cue
var outputSchemaFS embed.FS

//go:embed facts_schema.cue
var factsSchemaFS embed.FS

// schema is one compiled CUE file.
type schema struct {
	ctx   *cue.Context
	value cue.Value
	what  string
}

func compile(fs embed.FS, file, what string) (schema, error) {
	ctx := cuecontext.New()

	schemaBytes, err := fs.ReadFile(file)
	if err != nil {
		return schema{}, fmt.Errorf("loading %s schema: %w", what, err)
	}

	value := ctx.CompileBytes(schemaBytes)
	if value.Err() != nil {
		return schema{}, fmt.Errorf("compiling %s schema: %w", what, value.Err())
	}
	return schema{ctx: ctx, value: value, what: what}, nil
}

// unify checks JSON bytes against the named definition and returns the
// unvalidated unification so callers can collect every error.
func (s schema) unify(jsonBytes []byte, path string) (cue.Value, error) {
	dataValue := s.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("compiling %s as CUE: %w", s.what, dataValue.Err())
	}

	def := s.value.LookupPath(cue.ParsePath(path))
	if def.Err() != nil {
		return cue.Value{}, fmt.Errorf("looking up %s definition: %w", path, def.Err())
	}
	return def.Unify(dataValue), nil
}

func (s schema) validateJSON(jsonBytes []byte, path string) error {
	unified, err := s.unify(jsonBytes, path)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s schema validation failed: %w", s.what, err)
	}
	return nil
}

func (s schema) validate(data interface{}, path string) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s to JSON: %w", s.what, err)
	}
	return s.validateJSON(jsonBytes, path)
}

// Validator validates circuit documents against the #Circuit contract.
type Validator struct {
	schema schema
}

// New creates a new Validator with the embedded circuit schema.
func New() (*Validator, error) {
	s, err := compile(circuitSchemaFS, "circuit_schema.cue", "circuit")
	if err != nil {
		return nil, err
	}
	return &Validator{schema: s}, nil
}

// Validate checks a value that marshals to a circuit document, typically a
// *circuit.Document.
func (v *Validator) Validate(data interface{}) error {
	return v.schema.validate(data, "#Circuit")
}

// ValidateJSON validates circuit document bytes directly.
func (v *Validator) ValidateJSON(jsonBytes []byte) error {
	return v.schema.validateJSON(jsonBytes, "#Circuit")
}

// ValidationErrors returns one message per violation in a circuit document,
// or nil when it is valid.
func (v *Validator) ValidationErrors(jsonBytes []byte) []string {
	unified, err := v.schema.unify(jsonBytes, "#Circuit")
	if err != nil {
		return []string{err.Error()}
	}
	err = unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []string
	for _, e := range errors.Errors(err) {
		errs = append(errs, e.Error())
	}
	return errs
}

// FactsValidator validates relational fact tables against the facts schema.
type FactsValidator struct {
	schema schema
}

// NewFactsValidator creates a validator for relational fact tables.
func NewFactsValidator() (*FactsValidator, error) {
	s, err := compile(factsSchemaFS, "facts_schema.cue", "facts")
	if err != nil {
		return nil, err
	}
	return &FactsValidator{schema: s}, nil
}

// Validate checks that the fact tables conform to the facts schema.
func (v *FactsValidator) Validate(data interface{}) error {
	return v.schema.validate(data, "#FactTables")
}

// ValidateInput checks a complete policy engine input: tables plus rule
// configuration.
func (v *FactsValidator) ValidateInput(data interface{}) error {
	return v.schema.validate(data, "#Input")
}

// OutputValidator validates check reports against the output schema.
type OutputValidator struct {
	schema schema
}

// NewOutputValidator creates a validator for check output.
func NewOutputValidator() (*OutputValidator, error) {
	s, err := compile(outputSchemaFS, "output_schema.cue", "output")
	if err != nil {
		return nil, err
	}
	return &OutputValidator{schema: s}, nil
}

// Validate checks that the output data conforms to the output schema.
func (v *OutputValidator) Validate(data interface{}) error {
	return v.schema.validate(data, "#CheckOutput")
}
