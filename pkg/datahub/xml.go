package datahub

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/httpclient"
	"github.com/openfroyo/hubsetup/pkg/telemetry"
	"github.com/openfroyo/hubsetup/pkg/templates"
)

// Cloud is a hub cloud a repository can be created on.
type Cloud struct {
	ID          string `json:"cloudId"`
	ContainerID string `json:"containerId"`
	Name        string `json:"name"`
}

// HubClouds lists the hub clouds available to the account.
func (a *API) HubClouds(ctx context.Context) (clouds []Cloud, err error) {
	op := telemetry.StartOperation(ctx, "datahub.hub_clouds")
	defer func() { op.End(err) }()

	url := a.base + "/clouds"
	resp, err := a.client.Get(op.Ctx, url, httpclient.AcceptXML())
	if err != nil {
		return nil, err
	}
	clouds, err = ParseClouds(resp.Text())
	if err != nil {
		return nil, engine.NewRemoteRequestError("failed to parse clouds response", err).
			WithResponse(resp.StatusCode, resp.Text(), url)
	}
	return clouds, nil
}

// ParseClouds reads every Cloud element regardless of namespace prefix or
// attribute order.
func ParseClouds(doc string) ([]Cloud, error) {
	dec := xml.NewDecoder(strings.NewReader(strings.TrimPrefix(doc, "\ufeff")))
	var clouds []Cloud
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return clouds, nil
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Cloud" {
			continue
		}
		var c Cloud
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "cloudId":
				c.ID = attr.Value
			case "containerId":
				c.ContainerID = attr.Value
			case "name":
				c.Name = attr.Value
			}
		}
		clouds = append(clouds, c)
	}
}

// Model is an entry of the account's model list.
type Model struct {
	ID   string `xml:"id"`
	Name string `xml:"name"`
}

// ListModels lists the account's models.
func (a *API) ListModels(ctx context.Context) ([]Model, error) {
	url := a.base + "/models"
	resp, err := a.client.Get(ctx, url, httpclient.AcceptXML())
	if err != nil {
		return nil, err
	}
	models, err := ParseModels(resp.Text())
	if err != nil {
		return nil, engine.NewRemoteRequestError("failed to parse models response", err).
			WithResponse(resp.StatusCode, resp.Text(), url)
	}
	return models, nil
}

// FindModel returns the id of the model called name, or false when the
// account has none.
func (a *API) FindModel(ctx context.Context, name string) (string, bool, error) {
	models, err := a.ListModels(ctx)
	if err != nil {
		return "", false, err
	}
	for _, m := range models {
		if m.Name == name && m.ID != "" {
			return m.ID, true, nil
		}
	}
	return "", false, nil
}

// ParseModels reads every Model element and its id and name children.
func ParseModels(doc string) ([]Model, error) {
	dec := xml.NewDecoder(strings.NewReader(strings.TrimPrefix(doc, "\ufeff")))
	var models []Model
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return models, nil
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Model" {
			continue
		}
		var m Model
		if err := dec.DecodeElement(&m, &start); err != nil {
			return nil, err
		}
		m.ID = strings.TrimSpace(m.ID)
		m.Name = strings.TrimSpace(m.Name)
		models = append(models, m)
	}
}

var fieldTypes = map[string]string{
	"String":  "STRING",
	"Number":  "INTEGER",
	"Date":    "DATETIME",
	"Boolean": "BOOLEAN",
}

// FieldType maps a model field type to the API type, defaulting to STRING.
func FieldType(specType string) string {
	if t, ok := fieldTypes[specType]; ok {
		return t
	}
	return "STRING"
}

// UniqueID converts a camelCase field name to UPPER_SNAKE_CASE.
func UniqueID(name string) string {
	var sb strings.Builder
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			sb.WriteByte('_')
		}
		sb.WriteRune(unicode.ToUpper(r))
	}
	return sb.String()
}

// ModelRequestXML renders a CreateModelRequest for spec. The first source is
// the default. A field named id is skipped because the repository supplies it.
func ModelRequestXML(spec *templates.ModelSpec) string {
	var b strings.Builder
	w := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	w(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	w(`<mdm:CreateModelRequest xmlns:xsi="%s" xmlns:mdm="%s">`, NamespaceXSI, NamespaceMDM)
	w(`    <mdm:name>%s</mdm:name>`, escape(spec.ModelName))

	w(`    <mdm:fields>`)
	for _, f := range spec.Fields {
		if f.Name == "id" {
			continue
		}
		w(`        <mdm:field name="%s" repeatable="false" required="%t" type="%s" uniqueId="%s"/>`,
			escape(f.Name), f.Required, FieldType(f.Type), UniqueID(f.Name))
	}
	w(`    </mdm:fields>`)

	w(`    <mdm:sources>`)
	for i, src := range spec.Sources {
		w(`        <mdm:source id="%s" type="Both" allowMultipleLinks="false" default="%t">`, escape(src.Name), i == 0)
		w(`            <mdm:inbound>`)
		w(`                <mdm:createApproval required="false"/>`)
		w(`                <mdm:updateApproval required="false"/>`)
		w(`                <mdm:updateApprovalWithBaseValue>false</mdm:updateApprovalWithBaseValue>`)
		w(`                <mdm:endDateApproval required="false"/>`)
		w(`                <mdm:earlyChangeDetectionEnabled>true</mdm:earlyChangeDetectionEnabled>`)
		w(`            </mdm:inbound>`)
		w(`            <mdm:outbound>`)
		w(`                <mdm:channelUpdatesFields>All</mdm:channelUpdatesFields>`)
		w(`                <mdm:sendCreates>true</mdm:sendCreates>`)
		w(`            </mdm:outbound>`)
		w(`        </mdm:source>`)
	}
	w(`    </mdm:sources>`)
	w(`    <mdm:dataQualitySteps/>`)

	w(`    <mdm:matchRules>`)
	for _, rule := range spec.MatchRules {
		w(`        <mdm:matchRule topLevelOperator="AND">`)
		for _, name := range rule.Fields {
			w(`            <mdm:simpleExpression>`)
			w(`                <mdm:fieldUniqueId>%s</mdm:fieldUniqueId>`, UniqueID(name))
			w(`            </mdm:simpleExpression>`)
		}
		w(`        </mdm:matchRule>`)
	}
	w(`    </mdm:matchRules>`)
	w(`    <mdm:tags/>`)
	b.WriteString(`</mdm:CreateModelRequest>`)
	return b.String()
}

func escape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}
