package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dkoval/zoya/internal/metrics"
	"github.com/dkoval/zoya/internal/tracing"
	"github.com/dkoval/zoya/pkg/tool"
	"github.com/dkoval/zoya/pkg/turn"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient implements Provider against the generateContent API.
type GeminiClient struct {
	baseURL string
	client  *http.Client
	metrics *metrics.Metrics
}

// GeminiOption customizes the client.
type GeminiOption func(*GeminiClient)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) GeminiOption {
	return func(c *GeminiClient) { c.baseURL = baseURL }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) GeminiOption {
	return func(c *GeminiClient) { c.client = client }
}

// WithMetrics attaches request metrics.
func WithMetrics(m *metrics.Metrics) GeminiOption {
	return func(c *GeminiClient) { c.metrics = m }
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(opts ...GeminiOption) *GeminiClient {
	c := &GeminiClient{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate calls models/<model>:generateContent and maps the first
// candidate back to a model turn.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (turn.Turn, error) {
	logger := tracing.LoggerFromContext(ctx)

	payload := geminiRequest{Contents: toContents(req.Turns)}
	if len(req.Declarations) > 0 {
		payload.Tools = []geminiTool{{FunctionDeclarations: toFunctionDeclarations(req.Declarations)}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return turn.Turn{}, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, req.Model, url.QueryEscape(req.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return turn.Turn{}, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.count(req.Model, "transport_error")
		return turn.Turn{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		c.count(req.Model, outcomeLabel(err))
		logger.Warn().Int("status", resp.StatusCode).Str("model", req.Model).
			Msg("provider request failed")
		return turn.Turn{}, err
	}

	var response geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		c.count(req.Model, "decode_error")
		return turn.Turn{}, fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err)
	}
	if len(response.Candidates) == 0 {
		c.count(req.Model, "empty")
		return turn.Turn{}, fmt.Errorf("%w: empty candidate list", ErrUnavailable)
	}

	c.count(req.Model, "ok")
	return fromContent(response.Candidates[0].Content), nil
}

func (c *GeminiClient) count(model, outcome string) {
	if c.metrics != nil {
		c.metrics.ProviderRequestsTotal.WithLabelValues(model, outcome).Inc()
	}
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return ErrUnavailable
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s %s", ErrBadRequest, resp.Status, string(errorBody))
	default:
		return nil
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "bad_request"
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
	Tools    []geminiTool    `json:"tools,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

func toContents(turns []turn.Turn) []geminiContent {
	contents := make([]geminiContent, 0, len(turns))
	for _, t := range turns {
		content := geminiContent{Role: wireRole(t.Role)}
		for _, p := range t.Parts {
			switch {
			case p.Call != nil:
				content.Parts = append(content.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: p.Call.Name, Args: p.Call.Args},
				})
			case p.Response != nil:
				content.Parts = append(content.Parts, geminiPart{
					FunctionResponse: &geminiFunctionResponse{Name: p.Response.Name, Response: p.Response.Response},
				})
			default:
				content.Parts = append(content.Parts, geminiPart{Text: p.Text})
			}
		}
		contents = append(contents, content)
	}
	return contents
}

// wireRole maps internal roles to the two the API accepts. Tool result
// turns travel with the user role.
func wireRole(role turn.Role) string {
	if role == turn.RoleModel {
		return "model"
	}
	return "user"
}

func fromContent(content geminiContent) turn.Turn {
	t := turn.Turn{Role: turn.RoleModel, CreatedAt: time.Now().UTC()}
	for _, p := range content.Parts {
		switch {
		case p.FunctionCall != nil:
			t.Parts = append(t.Parts, turn.CallPart("", p.FunctionCall.Name, p.FunctionCall.Args))
		case p.FunctionResponse != nil:
			t.Parts = append(t.Parts, turn.ResponsePart("", p.FunctionResponse.Name, p.FunctionResponse.Response))
		case p.Text != "":
			t.Parts = append(t.Parts, turn.TextPart(p.Text))
		}
	}
	return t
}

func toFunctionDeclarations(decls []tool.Declaration) []geminiFunctionDeclaration {
	result := make([]geminiFunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		result = append(result, geminiFunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  parameterSchema(d),
		})
	}
	return result
}

func parameterSchema(d tool.Declaration) map[string]any {
	if len(d.Parameters) == 0 {
		return nil
	}
	properties := make(map[string]any, len(d.Parameters))
	var required []string
	for _, p := range d.Parameters {
		properties[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
