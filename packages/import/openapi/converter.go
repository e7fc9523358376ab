// Package openapi builds parity suites from OpenAPI 3 documents.
package openapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	log "github.com/sirupsen/logrus"

	"github.com/abdul-hamid-achik/parity/packages/suite"
)

// Converter turns the GET operations of an OpenAPI document into a suite.
// Operations whose path ends in a parameter become children of the list
// operation one segment up, bound to the items of its response.
type Converter struct {
	name        string
	includeTags []string
	excludeTags []string
	includeOnly []string // specific operation IDs
	schemas     bool
	logger      *log.Logger
}

// Option is a functional option for Converter
type Option func(*Converter)

// WithName sets the suite name; the document title is used otherwise.
func WithName(name string) Option {
	return func(c *Converter) {
		c.name = name
	}
}

// WithTags filters operations by tags
func WithTags(tags []string) Option {
	return func(c *Converter) {
		c.includeTags = tags
	}
}

// WithExcludeTags excludes operations with these tags
func WithExcludeTags(tags []string) Option {
	return func(c *Converter) {
		c.excludeTags = tags
	}
}

// WithOperations filters to specific operation IDs
func WithOperations(ops []string) Option {
	return func(c *Converter) {
		c.includeOnly = ops
	}
}

// WithSchemas embeds the 200 response schema of every operation.
func WithSchemas(enabled bool) Option {
	return func(c *Converter) {
		c.schemas = enabled
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Converter) {
		c.logger = l
	}
}

func NewConverter(opts ...Option) *Converter {
	c := &Converter{}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.StandardLogger()
	}
	return c
}

// ConvertFile loads an OpenAPI document from a file or http(s) URL.
func (c *Converter) ConvertFile(ctx context.Context, location string) (*suite.Suite, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	loader.Context = ctx

	var doc *openapi3.T
	var err error
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		u, perr := url.Parse(location)
		if perr != nil {
			return nil, fmt.Errorf("invalid spec URL: %w", perr)
		}
		doc, err = loader.LoadFromURI(u)
	} else {
		doc, err = loader.LoadFromFile(location)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI spec: %w", err)
	}
	return c.Convert(ctx, doc)
}

// ConvertData parses an OpenAPI document held in memory.
func (c *Converter) ConvertData(ctx context.Context, data []byte) (*suite.Suite, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI spec: %w", err)
	}
	return c.Convert(ctx, doc)
}

type operation struct {
	path   string
	op     *openapi3.Operation
	params openapi3.Parameters
}

// Convert builds the suite. Paths are taken relative to the server URL,
// which the environment's base URLs already carry.
func (c *Converter) Convert(ctx context.Context, doc *openapi3.T) (*suite.Suite, error) {
	if err := doc.Validate(ctx); err != nil {
		// Some specs have minor validation issues
		c.logger.WithError(err).Warn("OpenAPI spec validation")
	}
	if doc.Paths == nil {
		return nil, fmt.Errorf("OpenAPI spec has no paths")
	}

	s := &suite.Suite{Name: c.name}
	if doc.Info != nil {
		if s.Name == "" {
			s.Name = sanitizeName(strings.ToLower(doc.Info.Title))
		}
		s.Description = strings.TrimSpace(doc.Info.Title + " " + doc.Info.Version)
	}
	if s.Name == "" {
		s.Name = "openapi"
	}

	var ops []operation
	for path, item := range doc.Paths.Map() {
		if item == nil || item.Get == nil || !c.shouldInclude(item.Get) {
			continue
		}
		ops = append(ops, operation{path: path, op: item.Get, params: append(item.Parameters[:len(item.Parameters):len(item.Parameters)], item.Get.Parameters...)})
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].path < ops[j].path })

	byPath := map[string]*suite.Endpoint{}
	listItems := map[string]*openapi3.Schema{}
	names := map[string]bool{}

	for _, o := range ops {
		e := c.endpoint(o, names)
		byPath[o.path] = e
		listItems[o.path] = responseSchema(o.op)
		if err := c.attach(s, o.path, e, byPath, listItems); err != nil {
			c.logger.Warn(err)
		}
	}
	if len(s.Endpoints) == 0 {
		return nil, fmt.Errorf("OpenAPI spec has no GET operations to compare")
	}
	return s, nil
}

// attach places e at the top level or inside the expansion of the list
// endpoint that binds the last path parameter of path.
func (c *Converter) attach(s *suite.Suite, path string, e *suite.Endpoint, byPath map[string]*suite.Endpoint, schemas map[string]*openapi3.Schema) error {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	last := -1
	for i, seg := range segs {
		if isParam(seg) {
			last = i
		}
	}
	if last < 0 {
		s.Endpoints = append(s.Endpoints, e)
		return nil
	}

	listPath := "/" + strings.Join(segs[:last], "/")
	param := strings.Trim(segs[last], "{}")
	parent := byPath[listPath]
	if parent == nil {
		e.Skip = fmt.Sprintf("no list operation at %s provides %s", listPath, param)
		s.Endpoints = append(s.Endpoints, e)
		return fmt.Errorf("%s: no list operation at %s, endpoint skipped", path, listPath)
	}

	for _, x := range parent.Children {
		if x.As == param {
			x.Endpoints = append(x.Endpoints, e)
			return nil
		}
	}
	each, value := itemBinding(schemas[listPath], param)
	parent.Children = append(parent.Children, &suite.Expansion{
		Each:      each,
		Value:     value,
		As:        param,
		Endpoints: []*suite.Endpoint{e},
	})
	return nil
}

func (c *Converter) endpoint(o operation, names map[string]bool) *suite.Endpoint {
	name := sanitizeName(o.op.OperationID)
	if name == "" {
		name = sanitizeName(strings.NewReplacer("{", "", "}", "").Replace(o.path))
	}
	if name == "" {
		name = "root"
	}
	base := name
	for i := 2; names[name]; i++ {
		name = fmt.Sprintf("%s-%d", base, i)
	}
	names[name] = true

	e := &suite.Endpoint{
		Name:        name,
		Path:        convertPathParams(o.path),
		Description: o.op.Summary,
		Tags:        o.op.Tags,
	}

	for _, ref := range o.params {
		if ref == nil || ref.Value == nil {
			continue
		}
		p := ref.Value
		switch {
		case p.In == "query" && (p.Name == "page" || p.Name == "limit"):
			e.Paginated = true
		case p.In == "query" && p.Required:
			if v, ok := paramExample(p); ok {
				if e.Params == nil {
					e.Params = map[string]string{}
				}
				e.Params[p.Name] = v
			}
		}
	}

	schema := responseSchema(o.op)
	if schema == nil {
		return e
	}
	if _, ok := schema.Properties["total"]; ok {
		if _, ok := schema.Properties["data"]; ok {
			e.Paginated = true
		}
	}
	if c.schemas {
		if m, err := schemaMap(schema); err == nil {
			e.Schema = m
		} else {
			c.logger.WithError(err).Warnf("%s: response schema not embedded", o.path)
		}
	}
	return e
}

// responseSchema returns the JSON schema of the 200 response, or nil.
func responseSchema(op *openapi3.Operation) *openapi3.Schema {
	if op.Responses == nil {
		return nil
	}
	ref := op.Responses.Status(200)
	if ref == nil || ref.Value == nil {
		return nil
	}
	media := ref.Value.Content.Get("application/json")
	if media == nil || media.Schema == nil {
		return nil
	}
	return media.Schema.Value
}

// itemBinding guesses which response items and which field of each item
// provide param, from the list operation's response schema.
func itemBinding(schema *openapi3.Schema, param string) (each, value string) {
	each, value = "data", param
	if schema == nil {
		return each, value
	}

	var items *openapi3.Schema
	switch {
	case schema.Type.Is("array") && schema.Items != nil:
		each, items = "@this", schema.Items.Value
	case schema.Properties["data"] != nil && schema.Properties["data"].Value != nil:
		if data := schema.Properties["data"].Value; data.Items != nil {
			items = data.Items.Value
		}
	}
	if items == nil {
		return each, value
	}
	if items.Type.Is("string") || items.Type.Is("integer") || items.Type.Is("number") {
		return each, ""
	}
	return each, matchProperty(items.Properties, param)
}

// matchProperty picks the item property named like param: an exact or
// case-insensitive match, then the longest property param ends with
// ("collectionName" → "name"), then "id".
func matchProperty(props openapi3.Schemas, param string) string {
	if _, ok := props[param]; ok {
		return param
	}
	lower := strings.ToLower(param)
	best := ""
	for name := range props {
		ln := strings.ToLower(name)
		if ln == lower {
			return name
		}
		if strings.HasSuffix(lower, ln) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return best
	}
	if _, ok := props["id"]; ok {
		return "id"
	}
	return param
}

func isParam(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

// convertPathParams rewrites /a/{b} as a/{{b}}.
func convertPathParams(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segs {
		if isParam(seg) {
			segs[i] = "{" + seg + "}"
		}
	}
	return strings.Join(segs, "/")
}

func paramExample(p *openapi3.Parameter) (string, bool) {
	if p.Example != nil {
		return fmt.Sprintf("%v", p.Example), true
	}
	if p.Schema == nil || p.Schema.Value == nil {
		return "", false
	}
	schema := p.Schema.Value
	if schema.Example != nil {
		return fmt.Sprintf("%v", schema.Example), true
	}
	if schema.Default != nil {
		return fmt.Sprintf("%v", schema.Default), true
	}
	if len(schema.Enum) > 0 {
		return fmt.Sprintf("%v", schema.Enum[0]), true
	}
	switch {
	case schema.Type.Is("integer"):
		return "1", true
	case schema.Type.Is("boolean"):
		return "true", true
	}
	return "", false
}

func schemaMap(schema *openapi3.Schema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Converter) shouldInclude(op *openapi3.Operation) bool {
	if len(c.includeOnly) > 0 && !contains(c.includeOnly, op.OperationID) {
		return false
	}
	if len(c.includeTags) > 0 {
		found := false
		for _, tag := range op.Tags {
			if contains(c.includeTags, tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, tag := range op.Tags {
		if contains(c.excludeTags, tag) {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// sanitizeName reduces an operation id or path to letters, digits and dashes.
func sanitizeName(name string) string {
	result := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, name)

	for strings.Contains(result, "--") {
		result = strings.ReplaceAll(result, "--", "-")
	}
	return strings.Trim(result, "-")
}
