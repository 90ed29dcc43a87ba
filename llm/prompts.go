package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// System message for all JSON-constrained operations.
const jsonSystemMessage = "You are a knowledge graph expert. Respond with valid JSON only."

// Token budgets per operation. Extraction returns the largest payloads;
// merge judgment is a short verdict.
const (
	extractMaxTokens   = 2000
	translateMaxTokens = 500
	judgeMaxTokens     = 300

	defaultTemperature = 0.3
)

// chatModel implements Provider on top of any chatClient. All prompt
// construction and response parsing is here so the transport clients
// stay thin.
type chatModel struct {
	client chatClient
	model  string
}

func newChatModel(client chatClient, model string) *chatModel {
	return &chatModel{client: client, model: model}
}

func (m *chatModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return m.client.embed(ctx, texts)
}

// --- concept extraction ---

func (m *chatModel) ExtractConcepts(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	resp, err := m.client.chat(ctx, chatRequest{
		Model:       m.model,
		System:      jsonSystemMessage,
		User:        buildExtractPrompt(req),
		Temperature: defaultTemperature,
		MaxTokens:   extractMaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}
	return parseExtractResponse(resp.Content)
}

func buildExtractPrompt(req ExtractRequest) string {
	var b strings.Builder
	b.WriteString("Extract the key concepts from the text below.\n\n")
	b.WriteString("For each concept provide:\n")
	b.WriteString("- label: a short noun phrase naming the concept\n")
	b.WriteString("- search_terms: 2-5 alternative phrasings someone might search for\n")
	b.WriteString("- instances: verbatim quotes from the text that evidence the concept, each with a relevance score from 0 to 1\n\n")
	b.WriteString("Also list relationships between the concepts you found. Use verb-like\n")
	b.WriteString("UPPER_SNAKE_CASE types in active voice (CAUSES, DEPENDS_ON, PART_OF),\n")
	b.WriteString("with a confidence from 0 to 1.\n\n")

	if len(req.Recent) > 0 {
		b.WriteString("Concepts already identified earlier in this document (reuse these exact\nlabels when the text refers to the same idea):\n")
		for _, rc := range req.Recent {
			b.WriteString("- ")
			b.WriteString(rc.Label)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(`Respond with a JSON object of this shape:
{"concepts": [{"label": "...", "search_terms": ["..."], "instances": [{"quote": "...", "relevance": 0.9}]}],
 "relationships": [{"from": "...", "to": "...", "type": "CAUSES", "confidence": 0.8}]}

Text:
`)
	b.WriteString(req.ChunkText)
	return b.String()
}

type extractPayload struct {
	Concepts []struct {
		ID          string   `json:"concept_id"`
		Label       string   `json:"label"`
		SearchTerms []string `json:"search_terms"`
		Instances   []struct {
			Quote     string  `json:"quote"`
			Relevance float64 `json:"relevance"`
		} `json:"instances"`
	} `json:"concepts"`
	Relationships []struct {
		From       string  `json:"from"`
		To         string  `json:"to"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	} `json:"relationships"`
}

func parseExtractResponse(content string) (*ExtractResult, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in extraction response")
	}

	var payload extractPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decoding extraction response: %w", err)
	}

	result := &ExtractResult{}
	for _, c := range payload.Concepts {
		label := strings.TrimSpace(c.Label)
		if label == "" {
			continue
		}
		ec := ExtractedConcept{
			ID:          c.ID,
			Label:       label,
			SearchTerms: c.SearchTerms,
		}
		for _, inst := range c.Instances {
			quote := strings.TrimSpace(inst.Quote)
			if quote == "" {
				continue
			}
			ec.Instances = append(ec.Instances, ExtractedInstance{
				Quote:     quote,
				Relevance: inst.Relevance,
			})
		}
		result.Concepts = append(result.Concepts, ec)
	}
	for _, r := range payload.Relationships {
		if r.From == "" || r.To == "" || r.Type == "" {
			continue
		}
		result.Relations = append(result.Relations, ExtractedRelation{
			From:       r.From,
			To:         r.To,
			Type:       r.Type,
			Confidence: r.Confidence,
		})
	}
	return result, nil
}

// --- code translation ---

func (m *chatModel) TranslateToProse(ctx context.Context, req TranslateRequest) (string, error) {
	lang := req.Language
	if lang == "" {
		lang = "code"
	}

	prompt := fmt.Sprintf(`Describe what this %s does in plain English prose.
Write 2-4 sentences. Name the behavior, inputs, and outputs. Do not
include any code, identifiers in backticks, or bullet lists.

%s`, lang, req.Code)

	resp, err := m.client.chat(ctx, chatRequest{
		Model:       m.model,
		User:        prompt,
		Temperature: defaultTemperature,
		MaxTokens:   translateMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("translation call: %w", err)
	}

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", fmt.Errorf("empty translation response")
	}
	return out, nil
}

// --- merge judgment ---

func (m *chatModel) JudgeMerge(ctx context.Context, req MergeJudgment) (*MergeVerdict, error) {
	resp, err := m.client.chat(ctx, chatRequest{
		Model:       m.model,
		System:      jsonSystemMessage,
		User:        buildJudgePrompt(req),
		Temperature: defaultTemperature,
		MaxTokens:   judgeMaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("merge judgment call: %w", err)
	}
	return parseJudgeResponse(resp.Content, req)
}

func buildJudgePrompt(req MergeJudgment) string {
	return fmt.Sprintf(`Two relationship types in a knowledge graph may be synonyms.

Type A: %s (%d edges, value score %.2f)
Description: %s

Type B: %s (%d edges, value score %.2f)
Description: %s

Embedding similarity: %.3f

Should these be merged into one type? Merge only if they express the
same relationship in the same direction. Respond with JSON:
{"decision": "MERGE" or "SKIP", "keep": "<type to keep>", "reason": "<one sentence>"}`,
		req.TypeA.Name, req.TypeA.EdgeCount, req.TypeA.ValueScore, req.TypeA.Description,
		req.TypeB.Name, req.TypeB.EdgeCount, req.TypeB.ValueScore, req.TypeB.Description,
		req.Similarity)
}

type judgePayload struct {
	Decision string `json:"decision"`
	Keep     string `json:"keep"`
	Reason   string `json:"reason"`
}

func parseJudgeResponse(content string, req MergeJudgment) (*MergeVerdict, error) {
	verdict := &MergeVerdict{}

	raw := extractJSONObject(content)
	if raw != "" {
		var payload judgePayload
		if err := json.Unmarshal([]byte(raw), &payload); err == nil {
			verdict.Merge = strings.EqualFold(strings.TrimSpace(payload.Decision), "MERGE")
			verdict.Keep = strings.TrimSpace(payload.Keep)
			verdict.Reason = strings.TrimSpace(payload.Reason)
			normalizeVerdict(verdict, req)
			return verdict, nil
		}
	}

	// Fallback: scan for the first MERGE or SKIP keyword when the model
	// ignored the JSON instruction.
	upper := strings.ToUpper(content)
	mergeIdx := strings.Index(upper, "MERGE")
	skipIdx := strings.Index(upper, "SKIP")
	switch {
	case mergeIdx == -1 && skipIdx == -1:
		return nil, fmt.Errorf("unparseable merge judgment: %q", content)
	case skipIdx == -1 || (mergeIdx != -1 && mergeIdx < skipIdx):
		verdict.Merge = true
	default:
		verdict.Merge = false
	}
	verdict.Reason = strings.TrimSpace(content)
	normalizeVerdict(verdict, req)
	return verdict, nil
}

// normalizeVerdict fills in the surviving type when the model merged but
// named no keeper, preferring the type with more edges.
func normalizeVerdict(v *MergeVerdict, req MergeJudgment) {
	if !v.Merge {
		v.Keep = ""
		return
	}
	if v.Keep == req.TypeA.Name || v.Keep == req.TypeB.Name {
		return
	}
	if req.TypeB.EdgeCount > req.TypeA.EdgeCount {
		v.Keep = req.TypeB.Name
	} else {
		v.Keep = req.TypeA.Name
	}
}

// extractJSONObject returns the outermost JSON object in content,
// tolerating markdown code fences and prose around it.
func extractJSONObject(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}
