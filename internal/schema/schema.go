// Package schema validates the upstream station payloads and turns them into typed records.
//
// Each payload goes through the same pipeline: parse, canonicalize field names (aliases and
// legacy duplicates), JSON Schema validation, cross-field rules, then decoding. Violations
// from every phase before decoding are collected together; a payload either yields a
// complete record or a *SchemaError, never a partial value.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/julienvalera/velib-harvester/internal/models"
)

//go:embed schemas/*.json
var documents embed.FS

// Payload names, also used as the schema metric label.
const (
	NameStationInformation = "station_information"
	NameStationStatus      = "station_status"
)

// Options tunes rule strictness.
type Options struct {
	// StrictBikeTypes requires every num_bikes_available_types entry to carry its count.
	// When false a missing count decodes as zero.
	StrictBikeTypes bool
}

// Schema is one compiled payload schema plus its canonicalization and cross-field rules.
type Schema struct {
	name     string
	compiled *gojsonschema.Schema
	objects  []objectRule
	checks   []crossFieldRule
	integers []string
}

func compile(name string, objects []objectRule, checks ...crossFieldRule) (*Schema, error) {
	doc, err := documents.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	integers, err := integerFields(doc)
	if err != nil {
		return nil, fmt.Errorf("scan schema %s: %w", name, err)
	}
	return &Schema{name: name, compiled: compiled, objects: objects, checks: checks, integers: integers}, nil
}

// Name returns the payload name the schema validates.
func (s *Schema) Name() string {
	return s.name
}

// Validate runs the full pipeline on raw and decodes the canonical document into out.
// Returns a *SchemaError for payload problems and a plain error for internal failures.
func (s *Schema) Validate(raw []byte, out any) error {
	doc, violation := parseObject(raw)
	if violation != nil {
		return &SchemaError{Schema: s.name, Violations: []Violation{*violation}}
	}

	var violations []Violation
	for _, rule := range s.objects {
		forEachObject(doc, splitPath(rule.path), "", func(path string, obj map[string]any) {
			violations = append(violations, rule.apply(path, obj)...)
		})
	}

	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate %s: %w", s.name, err)
	}
	for _, re := range result.Errors() {
		violations = append(violations, fromResultError(re))
	}
	violations = append(violations, integerViolations(doc, s.integers)...)
	for _, check := range s.checks {
		violations = append(violations, check(doc)...)
	}
	if len(violations) > 0 {
		sort.SliceStable(violations, func(i, j int) bool { return violations[i].Path < violations[j].Path })
		return &SchemaError{Schema: s.name, Violations: violations}
	}

	canonical, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode canonical %s: %w", s.name, err)
	}
	// Integer literals are checked above; decoding only catches what the rules miss.
	if err := json.Unmarshal(canonical, out); err != nil {
		return &SchemaError{Schema: s.name, Violations: []Violation{fromDecodeError(err)}}
	}
	return nil
}

func parseObject(raw []byte) (map[string]any, *Violation) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &Violation{Kind: KindMalformedJSON, Message: err.Error()}
	}
	if dec.More() {
		return nil, &Violation{Kind: KindMalformedJSON, Message: "trailing data after top-level value"}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &Violation{
			Kind:     KindTypeMismatch,
			Expected: "object",
			Actual:   jsonKind(doc),
			Message:  "payload must be a JSON object",
		}
	}
	return obj, nil
}

func fromResultError(re gojsonschema.ResultError) Violation {
	path := contextPath(re.Context())
	details := re.Details()
	v := Violation{Path: path, Message: re.Description()}
	switch re.Type() {
	case "required":
		v.Kind = KindMissingField
		v.Path = joinPath(path, detail(details, "property"))
		v.Message = "field is required"
	case "additional_property_not_allowed":
		v.Kind = KindUnexpectedField
		v.Path = joinPath(path, detail(details, "property"))
		v.Message = "unexpected field"
	case "invalid_type":
		v.Kind = KindTypeMismatch
		v.Expected = detail(details, "expected")
		v.Actual = detail(details, "given")
		v.Message = "wrong type"
	default:
		v.Kind = KindInvalidValue
	}
	return v
}

func fromDecodeError(err error) Violation {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return Violation{
			Kind:     KindTypeMismatch,
			Path:     typeErr.Field,
			Expected: typeErr.Type.String(),
			Actual:   typeErr.Value,
			Message:  "value does not fit the declared type",
		}
	}
	return Violation{Kind: KindInvalidValue, Message: err.Error()}
}

func contextPath(ctx *gojsonschema.JsonContext) string {
	if ctx == nil {
		return ""
	}
	p := strings.TrimPrefix(ctx.String(), "(root)")
	return strings.TrimPrefix(p, ".")
}

func detail(d gojsonschema.ErrorDetails, key string) string {
	if v, ok := d[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	default:
		return "object"
	}
}

// Validator holds the two payload schemas.
type Validator struct {
	information *Schema
	status      *Schema
}

// NewValidator compiles both payload schemas.
func NewValidator(opts Options) (*Validator, error) {
	information, err := compile(NameStationInformation, []objectRule{
		{path: "", aliases: map[string]string{"lastUpdatedOther": "last_updated_other"}},
		{path: "data.stations.*", aliases: map[string]string{"stationCode": "station_code"}},
	})
	if err != nil {
		return nil, err
	}
	status, err := compile(NameStationStatus, []objectRule{
		{path: "", aliases: map[string]string{"lastUpdatedOther": "last_updated_other"}},
		{
			path:    "data.stations.*",
			aliases: map[string]string{"stationCode": "station_code"},
			legacy:  []string{"numBikesAvailable", "numDocksAvailable"},
		},
	}, availableTypesRule(opts.StrictBikeTypes))
	if err != nil {
		return nil, err
	}
	return &Validator{information: information, status: status}, nil
}

// StationInformation validates a raw station_information body.
func (v *Validator) StationInformation(raw []byte) (models.StationInformation, error) {
	var out models.StationInformation
	if err := v.information.Validate(raw, &out); err != nil {
		return models.StationInformation{}, err
	}
	return out, nil
}

// StationStatus validates a raw station_status body.
func (v *Validator) StationStatus(raw []byte) (models.StationStatus, error) {
	var out models.StationStatus
	if err := v.status.Validate(raw, &out); err != nil {
		return models.StationStatus{}, err
	}
	return out, nil
}
