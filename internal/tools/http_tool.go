package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/xaenox/kb-bot/internal/models"
)

// HTTPTool calls a fixed endpoint with the model-supplied arguments:
// POST and PUT send them as a JSON body, GET and DELETE as query parameters.
type HTTPTool struct {
	method     string
	url        string
	spec       models.ToolSpec
	httpClient *http.Client
}

func NewHTTPTool(desc models.ToolDescriptor, httpClient *http.Client) *HTTPTool {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPTool{
		method:     strings.ToUpper(desc.Method),
		url:        desc.URL,
		spec:       desc.Tool,
		httpClient: httpClient,
	}
}

// Compile builds a registry holding one HTTPTool per descriptor.
func Compile(descs []models.ToolDescriptor, httpClient *http.Client) *Registry {
	r := NewRegistry()
	for _, d := range descs {
		r.Register(NewHTTPTool(d, httpClient))
	}
	return r
}

func (t *HTTPTool) Name() string { return t.spec.Name }

func (t *HTTPTool) Definition() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        t.spec.Name,
			Description: t.spec.Description,
			Parameters:  SchemaDefinition(t.spec.Schema),
		},
	}
}

// SchemaDefinition converts a flat parameter schema to a JSON schema object.
// Every parameter is required; unknown types are left unconstrained.
func SchemaDefinition(schema map[string]models.ToolParam) jsonschema.Definition {
	def := jsonschema.Definition{
		Type:       jsonschema.Object,
		Properties: make(map[string]jsonschema.Definition, len(schema)),
		Required:   make([]string, 0, len(schema)),
	}
	for name, p := range schema {
		prop := jsonschema.Definition{Description: p.Description}
		switch p.Type {
		case "string":
			prop.Type = jsonschema.String
		case "number":
			prop.Type = jsonschema.Number
		case "boolean":
			prop.Type = jsonschema.Boolean
		case "array":
			prop.Type = jsonschema.Array
			prop.Items = &jsonschema.Definition{Type: jsonschema.String}
		}
		def.Properties[name] = prop
		def.Required = append(def.Required, name)
	}
	sort.Strings(def.Required)
	return def
}

func (t *HTTPTool) Validate(args map[string]any) error {
	for name, p := range t.spec.Schema {
		v, ok := args[name]
		if !ok {
			return fmt.Errorf("missing argument %q", name)
		}
		if !matchesType(p.Type, v) {
			return fmt.Errorf("argument %q must be of type %s", name, p.Type)
		}
	}
	return nil
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		items, ok := v.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (t *HTTPTool) Invoke(ctx context.Context, args map[string]any) string {
	out, err := t.do(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error making HTTP request: %s", err.Error())
	}
	return out
}

// queryValue formats a decoded JSON argument for a URL query. Numbers keep
// their plain decimal form.
func queryValue(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func (t *HTTPTool) do(ctx context.Context, args map[string]any) (string, error) {
	target, err := url.Parse(t.url)
	if err != nil {
		return "", err
	}

	var body io.Reader
	switch t.method {
	case http.MethodPost, http.MethodPut:
		b, err := json.Marshal(args)
		if err != nil {
			return "", err
		}
		body = bytes.NewReader(b)
	case http.MethodGet, http.MethodDelete:
		q := target.Query()
		for k, v := range args {
			if items, ok := v.([]any); ok {
				for _, item := range items {
					q.Add(k, queryValue(item))
				}
				continue
			}
			q.Set(k, queryValue(v))
		}
		target.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, t.method, target.String(), body)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("request failed with status code %d", resp.StatusCode)
	}
	return string(data), nil
}
