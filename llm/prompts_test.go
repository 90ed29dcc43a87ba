package llm

import (
	"strings"
	"testing"
)

func TestParseExtractResponse(t *testing.T) {
	content := `{"concepts": [
		{"label": "Load Balancing", "search_terms": ["load balancer"], "instances": [{"quote": "traffic is spread across nodes", "relevance": 0.8}]},
		{"label": "", "search_terms": ["dropped"]},
		{"label": "Health Checks", "instances": [{"quote": ""}]}
	],
	"relationships": [
		{"from": "Load Balancing", "to": "Health Checks", "type": "DEPENDS_ON", "confidence": 0.9},
		{"from": "", "to": "Health Checks", "type": "CAUSES", "confidence": 0.5}
	]}`

	res, err := parseExtractResponse(content)
	if err != nil {
		t.Fatalf("parseExtractResponse: %v", err)
	}

	// Empty label dropped, empty quote dropped.
	if len(res.Concepts) != 2 {
		t.Fatalf("concepts = %d, want 2", len(res.Concepts))
	}
	if res.Concepts[0].Label != "Load Balancing" {
		t.Errorf("label = %q", res.Concepts[0].Label)
	}
	if len(res.Concepts[1].Instances) != 0 {
		t.Errorf("empty quote should be dropped, got %+v", res.Concepts[1].Instances)
	}

	// Relation with empty endpoint dropped.
	if len(res.Relations) != 1 {
		t.Fatalf("relations = %d, want 1", len(res.Relations))
	}
	if res.Relations[0].Type != "DEPENDS_ON" {
		t.Errorf("type = %q", res.Relations[0].Type)
	}
}

func TestParseExtractResponseFenced(t *testing.T) {
	content := "```json\n{\"concepts\": [{\"label\": \"Caching\"}], \"relationships\": []}\n```"
	res, err := parseExtractResponse(content)
	if err != nil {
		t.Fatalf("parseExtractResponse: %v", err)
	}
	if len(res.Concepts) != 1 || res.Concepts[0].Label != "Caching" {
		t.Errorf("concepts = %+v", res.Concepts)
	}
}

func TestParseExtractResponseGarbage(t *testing.T) {
	_, err := parseExtractResponse("I could not process that request.")
	if err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}

// ---

func TestParseJudgeResponseJSON(t *testing.T) {
	req := MergeJudgment{
		TypeA: VocabType{Name: "STATUS", EdgeCount: 5},
		TypeB: VocabType{Name: "HAS_STATUS", EdgeCount: 12},
	}

	v, err := parseJudgeResponse(`{"decision": "MERGE", "keep": "HAS_STATUS", "reason": "same meaning"}`, req)
	if err != nil {
		t.Fatalf("parseJudgeResponse: %v", err)
	}
	if !v.Merge || v.Keep != "HAS_STATUS" || v.Reason != "same meaning" {
		t.Errorf("verdict = %+v", v)
	}

	v, err = parseJudgeResponse(`{"decision": "SKIP", "reason": "different direction"}`, req)
	if err != nil {
		t.Fatalf("parseJudgeResponse: %v", err)
	}
	if v.Merge || v.Keep != "" {
		t.Errorf("verdict = %+v, want skip with no keeper", v)
	}
}

func TestParseJudgeResponseKeywordFallback(t *testing.T) {
	req := MergeJudgment{
		TypeA: VocabType{Name: "A", EdgeCount: 3},
		TypeB: VocabType{Name: "B", EdgeCount: 7},
	}

	// First keyword position wins.
	v, err := parseJudgeResponse("I would MERGE these, though one could SKIP.", req)
	if err != nil {
		t.Fatalf("parseJudgeResponse: %v", err)
	}
	if !v.Merge {
		t.Error("MERGE appears first, want merge")
	}
	if v.Keep != "B" {
		t.Errorf("keep = %q, want B (more edges)", v.Keep)
	}

	v, err = parseJudgeResponse("Better to skip this pair; merge would lose nuance.", req)
	if err != nil {
		t.Fatalf("parseJudgeResponse: %v", err)
	}
	if v.Merge {
		t.Error("SKIP appears first, want skip")
	}

	if _, err := parseJudgeResponse("no verdict here", req); err == nil {
		t.Fatal("expected error when neither keyword present")
	}
}

func TestParseJudgeResponseBadKeeper(t *testing.T) {
	req := MergeJudgment{
		TypeA: VocabType{Name: "CAUSES", EdgeCount: 20},
		TypeB: VocabType{Name: "CAUSING", EdgeCount: 2},
	}
	// Model names a type that is not one of the pair; fall back to edges.
	v, err := parseJudgeResponse(`{"decision": "MERGE", "keep": "LEADS_TO"}`, req)
	if err != nil {
		t.Fatalf("parseJudgeResponse: %v", err)
	}
	if v.Keep != "CAUSES" {
		t.Errorf("keep = %q, want CAUSES", v.Keep)
	}
}

// ---

func TestBuildExtractPromptIncludesRecent(t *testing.T) {
	prompt := buildExtractPrompt(ExtractRequest{
		ChunkText: "some text",
		Recent: []RecentConcept{
			{ID: "c1", Label: "Service Mesh"},
			{ID: "c2", Label: "Sidecar Proxy"},
		},
	})
	if !strings.Contains(prompt, "Service Mesh") || !strings.Contains(prompt, "Sidecar Proxy") {
		t.Error("prompt missing recent concept labels")
	}
	if !strings.Contains(prompt, "some text") {
		t.Error("prompt missing chunk text")
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"Here you go: {\"a\": 1} hope that helps", `{"a": 1}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"no json at all", ""},
	}
	for _, tt := range tests {
		if got := extractJSONObject(tt.in); got != tt.want {
			t.Errorf("extractJSONObject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
