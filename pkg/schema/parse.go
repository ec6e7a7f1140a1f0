package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("nodetype", func(fl validator.FieldLevel) bool {
		return domain.NodeType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("datatype", func(fl validator.FieldLevel) bool {
		return domain.DataType(fl.Field().String()).Valid()
	})
	return v
}

// Options controls how strictly a payload is parsed.
type Options struct {
	// RequireAll demands that nodes, edges and handles are all present.
	// Partial updates leave it false; sandbox output sets it.
	RequireAll bool
}

// Update is a parsed bulk update request body.
type Update struct {
	Name    *string
	Payload domain.GraphPayload
}

// ParseUpdate parses a bulk update body: {name?, nodes?, edges?, handles?}.
func ParseUpdate(raw map[string]any) (Update, error) {
	var out Update
	var errs domain.ValidationErrors

	if v, ok := raw["name"]; ok {
		name, isString := v.(string)
		switch {
		case !isString:
			errs = append(errs, &domain.ValidationError{Field: "name", Reason: "must be a string", Value: v})
		case strings.TrimSpace(name) == "":
			errs = append(errs, &domain.ValidationError{Field: "name", Reason: "must not be empty"})
		case len(name) > 200:
			errs = append(errs, &domain.ValidationError{Field: "name", Reason: "must be at most 200 characters"})
		default:
			out.Name = &name
		}
	}

	payload, err := ParsePayload(raw, Options{})
	if err != nil {
		var perrs domain.ValidationErrors
		if !errors.As(err, &perrs) {
			return out, err
		}
		errs = append(errs, perrs...)
	}
	if len(errs) > 0 {
		return out, errs
	}
	out.Payload = payload
	return out, nil
}

// ParsePayloadJSON decodes data and parses it with ParsePayload.
func ParsePayloadJSON(data []byte, opts Options) (domain.GraphPayload, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.GraphPayload{}, domain.ValidationErrors{{Reason: "payload is not valid JSON: " + err.Error()}}
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return domain.GraphPayload{}, domain.ValidationErrors{{Reason: "payload must be an object with nodes, edges and handles"}}
	}
	return ParsePayload(obj, opts)
}

// ParsePayload validates an untyped payload and converts it to domain entities.
//
// Shape errors (a kind that is not an array) are reported before any element
// is inspected, so a diagnostic always names the first broken level.
func ParsePayload(raw map[string]any, opts Options) (domain.GraphPayload, error) {
	var payload domain.GraphPayload

	nodes, edges, handles, errs := shape(raw, opts)
	if len(errs) > 0 {
		return payload, errs
	}

	if nodes != nil {
		payload.Nodes = make([]domain.Node, 0, len(nodes))
		for i, item := range nodes {
			n, itemErrs := parseNode(fmt.Sprintf("nodes[%d]", i), item)
			errs = append(errs, itemErrs...)
			if len(itemErrs) == 0 {
				payload.Nodes = append(payload.Nodes, n)
			}
		}
	}
	if handles != nil {
		payload.Handles = make([]domain.Handle, 0, len(handles))
		for i, item := range handles {
			var w handleWire
			path := fmt.Sprintf("handles[%d]", i)
			if itemErrs := decodeElement(path, item, &w); len(itemErrs) > 0 {
				errs = append(errs, itemErrs...)
				continue
			}
			payload.Handles = append(payload.Handles, w.toDomain())
		}
	}
	if edges != nil {
		payload.Edges = make([]domain.Edge, 0, len(edges))
		for i, item := range edges {
			var w edgeWire
			path := fmt.Sprintf("edges[%d]", i)
			if itemErrs := decodeElement(path, item, &w); len(itemErrs) > 0 {
				errs = append(errs, itemErrs...)
				continue
			}
			payload.Edges = append(payload.Edges, w.toDomain())
		}
	}

	errs = append(errs, duplicateIDs(payload)...)
	if len(errs) > 0 {
		return domain.GraphPayload{}, errs
	}
	return payload, nil
}

func shape(raw map[string]any, opts Options) (nodes, edges, handles []any, errs domain.ValidationErrors) {
	if raw == nil {
		return nil, nil, nil, domain.ValidationErrors{{Reason: "payload must be an object with nodes, edges and handles"}}
	}
	kind := func(name string) []any {
		v, ok := raw[name]
		if !ok || v == nil {
			if opts.RequireAll {
				errs = append(errs, &domain.ValidationError{Field: name, Reason: "is required and must be an array"})
			}
			return nil
		}
		list, ok := v.([]any)
		if !ok {
			errs = append(errs, &domain.ValidationError{Field: name, Reason: "must be an array", Value: describe(v)})
			return nil
		}
		return list
	}
	nodes = kind("nodes")
	edges = kind("edges")
	handles = kind("handles")
	return nodes, edges, handles, errs
}

func parseNode(path string, item any) (domain.Node, domain.ValidationErrors) {
	var w nodeWire
	if errs := decodeElement(path, item, &w); len(errs) > 0 {
		return domain.Node{}, errs
	}
	cfg, err := domain.DecodeConfig(domain.NodeType(w.Type), w.Config)
	if err != nil {
		return domain.Node{}, domain.ValidationErrors{{Field: path + ".config", Reason: err.Error()}}
	}
	if err := validate.Struct(cfg); err != nil {
		return domain.Node{}, fieldErrors(path+".config", err)
	}
	return w.toDomain(cfg), nil
}

func decodeElement(path string, item any, dst any) domain.ValidationErrors {
	obj, ok := item.(map[string]any)
	if !ok {
		return domain.ValidationErrors{{Field: path, Reason: "must be an object", Value: describe(item)}}
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return domain.ValidationErrors{{Field: path, Reason: err.Error()}}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return domain.ValidationErrors{{
				Field:  path + "." + typeErr.Field,
				Reason: "must be of type " + jsonKind(typeErr.Type),
				Value:  typeErr.Value,
			}}
		}
		return domain.ValidationErrors{{Field: path, Reason: err.Error()}}
	}
	if err := validate.Struct(dst); err != nil {
		return fieldErrors(path, err)
	}
	return nil
}

func duplicateIDs(p domain.GraphPayload) domain.ValidationErrors {
	var errs domain.ValidationErrors
	check := func(kind string, ids []string) {
		seen := make(map[string]bool, len(ids))
		for i, id := range ids {
			if id == "" {
				continue
			}
			if seen[id] {
				errs = append(errs, &domain.ValidationError{
					Field:  fmt.Sprintf("%s[%d].id", kind, i),
					Reason: fmt.Sprintf("duplicate id %q", id),
				})
			}
			seen[id] = true
		}
	}
	ids := make([]string, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		ids = append(ids, n.ID)
	}
	check("nodes", ids)
	ids = ids[:0]
	for _, h := range p.Handles {
		ids = append(ids, h.ID)
	}
	check("handles", ids)
	ids = ids[:0]
	for _, e := range p.Edges {
		ids = append(ids, e.ID)
	}
	check("edges", ids)
	return errs
}

// fieldErrors converts validator output into domain errors rooted at prefix.
func fieldErrors(prefix string, err error) domain.ValidationErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.ValidationErrors{{Field: prefix, Reason: err.Error()}}
	}
	out := make(domain.ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		// Drop the leading struct type name.
		if i := strings.Index(ns, "."); i >= 0 {
			ns = ns[i+1:]
		}
		out = append(out, &domain.ValidationError{
			Field:  prefix + "." + ns,
			Reason: reason(fe),
			Value:  fe.Value(),
		})
	}
	return out
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s items", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "nodetype":
		return fmt.Sprintf("must be a known node type (%s)", joinNodeTypes())
	case "datatype":
		return fmt.Sprintf("must be a known data type (%s)", joinDataTypes())
	default:
		return "is invalid"
	}
}

func joinNodeTypes() string {
	parts := make([]string, 0, len(domain.NodeTypes))
	for _, t := range domain.NodeTypes {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ", ")
}

func joinDataTypes() string {
	parts := make([]string, 0, len(domain.DataTypes))
	for _, t := range domain.DataTypes {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ", ")
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Pointer:
		return jsonKind(t.Elem())
	default:
		return "number"
	}
}

func describe(v any) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("string %q", x)
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
