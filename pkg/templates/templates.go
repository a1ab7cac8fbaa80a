// Package templates holds the request payloads and model specs embedded in
// the binary, and the {KEY} placeholder substitution used to fill them.
package templates

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/openfroyo/hubsetup/pkg/engine"
)

//go:embed templates
var files embed.FS

const root = "templates"

// Payload templates.
const (
	CreateSource   = "create-source.xml"
	PublishModel   = "publish-model.xml"
	ComponentQuery = "component-query.xml"

	// Record payloads for the repository API.
	DevAccessRecord        = "dev-access-record.xml"
	ComponentMappingRecord = "component-mapping-record.xml"
	RecordQuery            = "record-query.xml"
)

// Load returns an embedded template by its path under templates/.
func Load(name string) (string, error) {
	data, err := files.ReadFile(path.Join(root, name))
	if err != nil {
		return "", engine.NewNotFoundError(fmt.Sprintf("template %q not found", name), err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// Render loads a template and fills its placeholders.
func Render(name string, params map[string]string) (string, error) {
	text, err := Load(name)
	if err != nil {
		return "", err
	}
	return Parameterize(text, params), nil
}

// List returns the template names under dir, sorted.
func List(dir string) ([]string, error) {
	entries, err := fs.ReadDir(files, path.Join(root, dir))
	if err != nil {
		return nil, engine.NewNotFoundError(fmt.Sprintf("template directory %q not found", dir), err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadJSON decodes an embedded JSON template into v.
func LoadJSON(name string, v interface{}) error {
	text, err := Load(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return engine.NewConfigurationError(fmt.Sprintf("template %q is not valid JSON", name), err)
	}
	return nil
}

// Parameterize replaces each {KEY} that has an entry in params, scanning left
// to right. Substituted text is not rescanned. Placeholders without a value
// are left as they are.
func Parameterize(text string, params map[string]string) string {
	if len(params) == 0 {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text))
	for {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			sb.WriteString(text)
			return sb.String()
		}
		end := strings.IndexByte(text[open+1:], '}')
		if end < 0 {
			sb.WriteString(text)
			return sb.String()
		}
		key := text[open+1 : open+1+end]
		if value, ok := params[key]; ok && isKey(key) {
			sb.WriteString(text[:open])
			sb.WriteString(value)
			text = text[open+end+2:]
			continue
		}
		sb.WriteString(text[:open+1])
		text = text[open+1:]
	}
}

// Placeholders returns the distinct {KEY} names in text in order of first
// appearance.
func Placeholders(text string) []string {
	seen := make(map[string]bool)
	var keys []string
	for {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			return keys
		}
		end := strings.IndexByte(text[open+1:], '}')
		if end < 0 {
			return keys
		}
		key := text[open+1 : open+1+end]
		if isKey(key) {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
			text = text[open+end+2:]
			continue
		}
		text = text[open+1:]
	}
}

func isKey(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}
