package templates

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/hubsetup/pkg/engine"
)

// ModelSpec describes a DataHub model to create.
type ModelSpec struct {
	ModelName  string      `json:"modelName" validate:"required"`
	Fields     []Field     `json:"fields" validate:"required,min=1,dive"`
	MatchRules []MatchRule `json:"matchRules" validate:"dive"`
	Sources    []Source    `json:"sources" validate:"dive"`
}

// Field is one model field. Type is String, Number, Date or Boolean.
type Field struct {
	Name       string `json:"name" validate:"required"`
	Type       string `json:"type" validate:"required,oneof=String Number Date Boolean"`
	Required   bool   `json:"required"`
	MatchField bool   `json:"matchField"`
}

// MatchRule ANDs the listed fields.
type MatchRule struct {
	Fields []string `json:"fields" validate:"required,min=1"`
}

// Source is a DataHub source contributing to the model.
type Source struct {
	Name string `json:"name" validate:"required"`
}

// Folder is one entry of the platform folder tree. An empty Parent is the root.
type Folder struct {
	Name   string `json:"name" validate:"required"`
	Parent string `json:"parent"`
}

var validate = validator.New()

// ModelNames returns the embedded model spec names, sorted.
func ModelNames() ([]string, error) {
	files, err := List("models")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, strings.TrimSuffix(f, ".json"))
	}
	return names, nil
}

// LoadModelSpec loads and validates the embedded spec for model.
func LoadModelSpec(model string) (*ModelSpec, error) {
	var spec ModelSpec
	if err := LoadJSON("models/"+model+".json", &spec); err != nil {
		return nil, err
	}
	if err := validate.Struct(&spec); err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("model spec %q is invalid", model), err)
	}
	if spec.ModelName != model {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("model spec %q declares modelName %q", model, spec.ModelName), nil)
	}
	return &spec, nil
}

// SourceNames returns the source names of the spec in order.
func (m *ModelSpec) SourceNames() []string {
	out := make([]string, 0, len(m.Sources))
	for _, s := range m.Sources {
		out = append(out, s.Name)
	}
	return out
}

// Folders returns the platform folder tree, parents before children.
func Folders() ([]Folder, error) {
	var folders []Folder
	if err := LoadJSON("folders.json", &folders); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(folders))
	for _, f := range folders {
		if err := validate.Struct(f); err != nil {
			return nil, engine.NewConfigurationError("folder tree is invalid", err)
		}
		if f.Parent != "" && !seen[f.Parent] {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("folder %q is listed before its parent %q", f.Name, f.Parent), nil)
		}
		seen[f.Name] = true
	}
	return folders, nil
}
