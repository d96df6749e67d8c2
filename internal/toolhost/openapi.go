package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/codefionn/werkzeug/internal/config"
	"github.com/codefionn/werkzeug/internal/tools"
)

const openAPIResponseLimit = 1 << 20

// OpenAPIHost turns the operations of an OpenAPI document into invocable
// tools. Path and query parameters map to top-level arguments; the request
// body, when an operation takes one, maps to a "body" argument.
type OpenAPIHost struct {
	name    string
	baseURL string
	headers map[string]string
	client  *http.Client
	ops     map[string]*openAPIOperation
}

type openAPIOperation struct {
	method  string
	path    string
	spec    tools.Spec
	params  []openAPIParam
	hasBody bool
}

type openAPIParam struct {
	name     string
	in       string
	required bool
}

// NewOpenAPIHost loads the document and builds the operation table.
func NewOpenAPIHost(name string, cfg *config.HostOpenAPIConfig) (*OpenAPIHost, error) {
	doc, err := loadOpenAPIDocument(cfg)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(cfg.URL, "/")
	if baseURL == "" && len(doc.Servers) > 0 {
		baseURL = strings.TrimRight(doc.Servers[0].URL, "/")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("no base URL configured and the document declares no servers")
	}

	headers := make(map[string]string, len(cfg.DefaultHeaders)+1)
	for key, value := range cfg.DefaultHeaders {
		headers[key] = value
	}
	token := cfg.AuthBearerToken
	if token == "" && cfg.AuthBearerEnv != "" {
		token = os.Getenv(cfg.AuthBearerEnv)
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	host := &OpenAPIHost{
		name:    name,
		baseURL: baseURL,
		headers: headers,
		client:  &http.Client{Timeout: 2 * time.Minute},
		ops:     make(map[string]*openAPIOperation),
	}
	host.buildOperations(doc)

	return host, nil
}

func loadOpenAPIDocument(cfg *config.HostOpenAPIConfig) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	if cfg.SpecPath != "" {
		doc, err := loader.LoadFromFile(cfg.SpecPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load OpenAPI document from %s: %w", cfg.SpecPath, err)
		}
		return doc, nil
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("openapi host needs spec_path or url")
	}
	docURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document URL: %w", err)
	}
	doc, err := loader.LoadFromURI(docURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI document from %s: %w", cfg.URL, err)
	}
	return doc, nil
}

func (h *OpenAPIHost) buildOperations(doc *openapi3.T) {
	if doc.Paths == nil {
		return
	}

	paths := doc.Paths.Map()
	pathKeys := make([]string, 0, len(paths))
	for path := range paths {
		pathKeys = append(pathKeys, path)
	}
	sort.Strings(pathKeys)

	for _, path := range pathKeys {
		pathItem := paths[path]
		if pathItem == nil {
			continue
		}
		for method, operation := range pathItem.Operations() {
			toolName := operation.OperationID
			if toolName == "" {
				toolName = strings.ToLower(method) + "_" + path
			}
			toolName = uniqueToolName(sanitizeName(toolName), h.ops)

			op := &openAPIOperation{
				method:  method,
				path:    path,
				hasBody: operation.RequestBody != nil,
			}

			properties := map[string]interface{}{}
			var required []string
			allParams := append(append([]*openapi3.ParameterRef{}, pathItem.Parameters...), operation.Parameters...)
			for _, paramRef := range allParams {
				if paramRef == nil || paramRef.Value == nil {
					continue
				}
				param := paramRef.Value
				op.params = append(op.params, openAPIParam{
					name:     param.Name,
					in:       param.In,
					required: param.Required,
				})
				properties[param.Name] = map[string]interface{}{
					"type":        "string",
					"description": param.Description,
				}
				if param.Required {
					required = append(required, param.Name)
				}
			}
			if op.hasBody {
				properties["body"] = map[string]interface{}{
					"type":        "object",
					"description": "JSON request body",
				}
			}

			description := operation.Summary
			if description == "" {
				description = operation.Description
			}
			if description == "" {
				description = fmt.Sprintf("%s %s", method, path)
			}

			parameters := map[string]interface{}{
				"type":       "object",
				"properties": properties,
			}
			if len(required) > 0 {
				parameters["required"] = required
			}
			op.spec = tools.Spec{
				Name:        toolName,
				Description: description,
				Parameters:  parameters,
			}

			h.ops[toolName] = op
		}
	}
}

// Name implements Host.
func (h *OpenAPIHost) Name() string {
	return h.name
}

// List implements Host.
func (h *OpenAPIHost) List() []tools.Spec {
	specs := make([]tools.Spec, 0, len(h.ops))
	for _, op := range h.ops {
		specs = append(specs, op.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Invoke implements Host.
func (h *OpenAPIHost) Invoke(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	op, ok := h.ops[tool]
	if !ok {
		return "", tools.NewError(tools.ErrorUnknownTool, fmt.Errorf("host %s has no tool %s", h.name, tool))
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	requestURL, headers, err := op.buildRequestTarget(h.baseURL, args)
	if err != nil {
		return "", tools.NewError(tools.ErrorInvalidArguments, err)
	}

	var body io.Reader
	if op.hasBody {
		payload := args["body"]
		if payload == nil {
			payload = map[string]interface{}{}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return "", tools.NewError(tools.ErrorInvalidArguments, fmt.Errorf("failed to encode body: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, op.method, requestURL, body)
	if err != nil {
		return "", tools.NewError(tools.ErrorExecution, fmt.Errorf("failed to build request: %w", err))
	}
	if op.hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.headers {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", tools.NewError(tools.ErrorTimeout, err)
		}
		return "", tools.NewError(tools.ErrorExecution, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, openAPIResponseLimit))
	if err != nil {
		return "", tools.NewError(tools.ErrorExecution, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", tools.NewError(tools.ErrorExecution,
			fmt.Errorf("%s returned %d: %s", tool, resp.StatusCode, strings.TrimSpace(string(data))))
	}

	return string(data), nil
}

// buildRequestTarget substitutes path parameters and collects query and
// header parameters from the arguments.
func (op *openAPIOperation) buildRequestTarget(baseURL string, args map[string]interface{}) (string, map[string]string, error) {
	path := op.path
	query := url.Values{}
	headers := map[string]string{}

	for _, param := range op.params {
		raw, present := args[param.name]
		if !present {
			if param.required {
				return "", nil, fmt.Errorf("missing required parameter %s", param.name)
			}
			continue
		}
		value := fmt.Sprintf("%v", raw)

		switch param.in {
		case "path":
			path = strings.ReplaceAll(path, "{"+param.name+"}", url.PathEscape(value))
		case "query":
			query.Set(param.name, value)
		case "header":
			headers[param.name] = value
		}
	}

	target := baseURL + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	return target, headers, nil
}

// sanitizeName makes an operation id safe to use as a tool name.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "operation"
	}
	return out
}

// uniqueToolName appends a counter when the sanitized name collides.
func uniqueToolName(name string, existing map[string]*openAPIOperation) string {
	if _, taken := existing[name]; !taken {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		if _, taken := existing[candidate]; !taken {
			return candidate
		}
	}
}
