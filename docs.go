package rested

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/zoobzio/sentinel"
)

// metadataToSchema converts sentinel ModelMetadata to an OpenAPI Schema.
func metadataToSchema(meta sentinel.ModelMetadata) *Schema {
	schema := &Schema{
		Type:       "object",
		Properties: make(map[string]*Schema),
	}

	var required []string
	for _, field := range meta.Fields {
		propName, isRequired := parseJSONTag(field)
		if propName == "-" {
			continue
		}
		schema.Properties[propName] = goTypeToSchema(field.Type)
		if isRequired {
			required = append(required, propName)
		}
	}
	if len(required) > 0 {
		schema.Required = required
	}
	return schema
}

// parseJSONTag extracts the JSON property name. A field is required when it
// has no omitempty and carries a validate:"required" rule.
func parseJSONTag(field sentinel.FieldMetadata) (name string, required bool) {
	name = field.Name
	omitempty := false
	if jsonTag, ok := field.Tags["json"]; ok {
		parts := strings.Split(jsonTag, ",")
		if parts[0] != "" {
			name = parts[0]
		}
		for _, part := range parts[1:] {
			if strings.TrimSpace(part) == "omitempty" {
				omitempty = true
			}
		}
	}
	rules := field.Tags["validate"]
	required = !omitempty && strings.Contains(","+rules+",", ",required,")
	return name, required
}

// goTypeToSchema converts a Go type string to an OpenAPI Schema.
func goTypeToSchema(goType string) *Schema {
	goType = strings.TrimPrefix(goType, "*")

	if strings.HasPrefix(goType, "[]") {
		return &Schema{
			Type:  "array",
			Items: goTypeToSchema(strings.TrimPrefix(goType, "[]")),
		}
	}
	if strings.HasPrefix(goType, "map[") {
		return &Schema{
			Type:                 "object",
			AdditionalProperties: true,
		}
	}

	switch goType {
	case "string":
		return &Schema{Type: "string"}
	case "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64":
		return &Schema{Type: "integer"}
	case "float32", "float64":
		return &Schema{Type: "number"}
	case "bool":
		return &Schema{Type: "boolean"}
	case "time.Time":
		return &Schema{Type: "string", Format: "date-time"}
	case "uuid.UUID":
		return &Schema{Type: "string", Format: "uuid"}
	case "interface {}", "any":
		return &Schema{}
	default:
		return &Schema{Ref: "#/components/schemas/" + componentName(goType)}
	}
}

// componentName turns a Go type name into a component key:
// "PagedResult[github.com/acme/app.Example]" becomes "PagedResultExample".
func componentName(typeName string) string {
	base, arg, generic := strings.Cut(typeName, "[")
	if i := strings.LastIndexAny(base, "./"); i >= 0 {
		base = base[i+1:]
	}
	if !generic {
		return base
	}
	return base + componentName(strings.TrimSuffix(arg, "]"))
}

// schemaFor is the response or request schema of a named type. Primitive
// bodies, such as a created key, are described inline.
func schemaFor(typeName string) *Schema {
	s := goTypeToSchema(typeName)
	if s.Ref == "" {
		return s
	}
	return &Schema{Ref: "#/components/schemas/" + componentName(typeName)}
}

func setOperationForMethod(pathItem *PathItem, method string, operation *Operation) {
	switch method {
	case http.MethodGet:
		pathItem.Get = operation
	case http.MethodPost:
		pathItem.Post = operation
	case http.MethodPut:
		pathItem.Put = operation
	case http.MethodPatch:
		pathItem.Patch = operation
	case http.MethodDelete:
		pathItem.Delete = operation
	}
}

var errorResponseRef = map[string]MediaType{
	MediaJSON: {Schema: &Schema{Ref: "#/components/schemas/ErrorResponse"}},
}

// GenerateOpenAPI creates an OpenAPI document from registered endpoints.
func (e *Engine) GenerateOpenAPI(info Info) *OpenAPI {
	doc := &OpenAPI{
		OpenAPI: "3.0.3",
		Info:    info,
		Servers: e.spec.Servers,
		Tags:    e.spec.Tags,
		Paths:   make(map[string]PathItem),
		Components: &Components{
			Schemas:   make(map[string]*Schema),
			Responses: make(map[string]*Response),
		},
	}

	doc.Components.Schemas["ErrorResponse"] = &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"message": {Type: "string"},
			"details": {Type: "object", AdditionalProperties: true},
			"errors":  {Type: "object", AdditionalProperties: &Schema{Type: "string"}},
		},
		Required: []string{"message"},
	}

	e.mu.Lock()
	endpoints := append([]Endpoint(nil), e.endpoints...)
	e.mu.Unlock()

	secured := false
	for _, ep := range endpoints {
		spec := ep.Spec()
		path := OpenAPIPath(spec.Path)

		for _, meta := range ep.Models() {
			name := componentName(meta.TypeName)
			if _, done := doc.Components.Schemas[name]; !done && len(meta.Fields) > 0 {
				doc.Components.Schemas[name] = metadataToSchema(meta)
			}
		}

		operation := &Operation{
			OperationID: spec.Name,
			Summary:     spec.Summary,
			Description: spec.Description,
			Tags:        spec.Tags,
			Parameters:  append([]Parameter(nil), spec.Parameters...),
			Responses:   make(map[string]Response),
		}

		for _, name := range spec.PathParams {
			if hasParameter(operation.Parameters, name, "path") {
				continue
			}
			operation.Parameters = append(operation.Parameters, Parameter{
				Name:     name,
				In:       "path",
				Required: true,
				Schema:   &Schema{Type: "string"},
			})
		}

		if spec.InputTypeName != "NoBody" {
			operation.RequestBody = &RequestBody{
				Required: true,
				Content: map[string]MediaType{
					MediaJSON:    {Schema: schemaFor(spec.InputTypeName)},
					MediaMsgpack: {Schema: schemaFor(spec.InputTypeName)},
				},
			}
		}

		success := Response{Description: http.StatusText(spec.SuccessStatus)}
		if spec.OutputTypeName != "NoBody" {
			success.Content = map[string]MediaType{
				MediaJSON:    {Schema: schemaFor(spec.OutputTypeName)},
				MediaMsgpack: {Schema: schemaFor(spec.OutputTypeName)},
			}
		}
		if spec.SuccessStatus == http.StatusCreated {
			success.Headers = map[string]Header{
				"Location": {Description: "URL of the created resource", Schema: &Schema{Type: "string"}},
			}
		}
		operation.Responses[strconv.Itoa(spec.SuccessStatus)] = success

		codes := append([]int(nil), spec.ErrorCodes...)
		if spec.RequiresAuth {
			secured = true
			operation.Security = []map[string][]string{{"bearerAuth": {}}}
			codes = appendCode(codes, http.StatusUnauthorized)
		}
		for _, code := range codes {
			operation.Responses[strconv.Itoa(code)] = Response{
				Description: http.StatusText(code),
				Content:     errorResponseRef,
			}
		}

		pathItem := doc.Paths[path]
		setOperationForMethod(&pathItem, spec.Method, operation)
		doc.Paths[path] = pathItem
	}

	if secured {
		doc.Components.SecuritySchemes = map[string]*SecurityScheme{
			"bearerAuth": {Type: "http", Scheme: "bearer"},
		}
	}
	return doc
}

func hasParameter(params []Parameter, name, in string) bool {
	for _, p := range params {
		if p.Name == name && p.In == in {
			return true
		}
	}
	return false
}

func appendCode(codes []int, code int) []int {
	for _, c := range codes {
		if c == code {
			return codes
		}
	}
	codes = append(codes, code)
	sort.Ints(codes)
	return codes
}
