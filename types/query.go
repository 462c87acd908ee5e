package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

type Phase string

const (
	PhaseConfig    Phase = "config"
	PhaseExtract   Phase = "extract"
	PhaseTransform Phase = "transform"
	PhaseLoad      Phase = "load"
	PhaseEmbed     Phase = "embed"
	PhaseBook      Phase = "book"
	PhaseAll       Phase = "all"
)

// RunParams is the body accepted when a pipeline phase is triggered over HTTP.
type RunParams struct {
	Phase   Phase  `json:"-" validate:"required,oneof=config extract transform load embed book all"`
	Table   string `json:"table,omitempty" validate:"omitempty,max=63"`
	Replace bool   `json:"replace"`
	PDFPath string `json:"pdf_path,omitempty" validate:"required_if=Phase book"`
}

type RunResult struct {
	Phase    Phase  `json:"phase"`
	Rows     int    `json:"rows"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Duration string `json:"duration"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *RunParams) Validate() map[string]string {
	return validateStruct(params)
}

func (m *FieldMapping) Validate() map[string]string {
	return validateStruct(m)
}

func validateStruct(v any) map[string]string {
	validate := validator.New()
	if err := validate.Struct(v); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"_": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}
