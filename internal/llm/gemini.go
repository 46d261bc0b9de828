package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient implements Client on top of the Gemini API.
type GeminiClient struct {
	client          *genai.Client
	model           string
	nativeReasoning bool
}

// NewGeminiFromEnv builds a client from GOOGLE_API_KEY and GEMINI_MODEL.
// Thinking-capable models are treated as natively reasoning.
func NewGeminiFromEnv(ctx context.Context) (*GeminiClient, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GOOGLE_API_KEY is not set")
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-1.5-pro"
	}
	return &GeminiClient{
		client:          c,
		model:           model,
		nativeReasoning: strings.Contains(model, "thinking") || os.Getenv("GEMINI_NATIVE_REASONING") == "1",
	}, nil
}

func (g *GeminiClient) NativeReasoning() bool { return g.nativeReasoning }

func (g *GeminiClient) Close() error { return g.client.Close() }

func (g *GeminiClient) Call(ctx context.Context, req Request) (*Response, error) {
	cs, last, err := g.prepare(req)
	if err != nil {
		return nil, err
	}
	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return nil, fmt.Errorf("gemini call: %w", err)
	}
	return collect(resp), nil
}

func (g *GeminiClient) Stream(ctx context.Context, req Request, onDelta func(Delta)) (*Response, error) {
	cs, last, err := g.prepare(req)
	if err != nil {
		return nil, err
	}
	it := cs.SendMessageStream(ctx, last...)
	out := &Response{}
	for {
		resp, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gemini stream: %w", err)
		}
		piece := collect(resp)
		if piece.Text != "" && onDelta != nil {
			onDelta(Delta{Kind: DeltaText, Text: piece.Text})
		}
		out.Text += piece.Text
		out.ToolCalls = append(out.ToolCalls, piece.ToolCalls...)
	}
	return out, nil
}

// prepare builds a chat session from the request and returns the parts of the
// final user message to send.
func (g *GeminiClient) prepare(req Request) (*genai.ChatSession, []genai.Part, error) {
	model := g.client.GenerativeModel(g.model)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: toDeclarations(req.Tools)}}
		mode := genai.FunctionCallingAuto
		switch req.Choice {
		case ChoiceRequired:
			mode = genai.FunctionCallingAny
		case ChoiceNone:
			mode = genai.FunctionCallingNone
		}
		model.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
	}

	var history []*genai.Content
	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}
	if len(history) == 0 {
		return nil, nil, errors.New("empty message history")
	}
	last := history[len(history)-1]
	cs := model.StartChat()
	cs.History = history[:len(history)-1]
	return cs, last.Parts, nil
}

func toDeclarations(tools []ToolDef) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if len(t.Parameters) > 0 {
			props := make(map[string]*genai.Schema, len(t.Parameters))
			for name, p := range t.Parameters {
				props[name] = toSchema(p)
			}
			decl.Parameters = &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   t.Required,
			}
		}
		out = append(out, decl)
	}
	return out
}

func toSchema(p ParamDef) *genai.Schema {
	s := &genai.Schema{Description: p.Description}
	switch p.Type {
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
		if p.Items != nil {
			s.Items = toSchema(*p.Items)
		} else {
			s.Items = &genai.Schema{Type: genai.TypeString}
		}
	default:
		s.Type = genai.TypeString
	}
	return s
}

func collect(r *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if r == nil {
		return out
	}
	for _, cand := range r.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				out.Text += string(v)
			case genai.FunctionCall:
				out.ToolCalls = append(out.ToolCalls, ToolCall{Name: v.Name, Args: v.Args})
			}
		}
	}
	return out
}
