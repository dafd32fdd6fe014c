package conductor

import (
	"testing"

	"github.com/rendis/conductor/pkg/schema"
)

func TestClassify_Trigger(t *testing.T) {
	if got := Classify(node("t", schema.NodeKindTrigger)); got != schema.ClassPassthrough {
		t.Errorf("trigger classified %s, want passthrough", got)
	}
}

func TestClassify_SquadAlwaysAgent(t *testing.T) {
	squad := schema.FlowNode{
		ID:     "s",
		Kind:   schema.NodeKindSquad,
		Config: schema.NodeConfig{NoCollapse: true, Prompt: "coordinate"},
	}
	if got := Classify(squad); got != schema.ClassAgent {
		t.Errorf("squad classified %s, want agent regardless of config", got)
	}
}

func TestClassify_ToolWithPromptIsDirect(t *testing.T) {
	tool := schema.FlowNode{
		ID:     "tool",
		Kind:   schema.NodeKindTool,
		Config: schema.NodeConfig{Prompt: "search for cats"},
	}
	if got := Classify(tool); got != schema.ClassDirect {
		t.Errorf("tool with prompt classified %s, want direct", got)
	}
}

func TestClassify_DeterministicKinds(t *testing.T) {
	kinds := []schema.NodeKind{
		schema.NodeKindCode, schema.NodeKindOutput, schema.NodeKindError,
		schema.NodeKindHTTP, schema.NodeKindMCPTool, schema.NodeKindLoop,
		schema.NodeKindGroup, schema.NodeKindData, schema.NodeKindMemory,
		schema.NodeKindMemoryRecall,
	}
	for _, k := range kinds {
		if got := Classify(node("n", k)); got != schema.ClassDirect {
			t.Errorf("%s classified %s, want direct", k, got)
		}
	}
}

func TestClassify_Condition(t *testing.T) {
	structured := schema.FlowNode{
		ID:     "c1",
		Kind:   schema.NodeKindCondition,
		Config: schema.NodeConfig{ConditionExpr: "input.status === 200"},
	}
	if got := Classify(structured); got != schema.ClassDirect {
		t.Errorf("structured condition classified %s, want direct", got)
	}

	natural := schema.FlowNode{
		ID:     "c2",
		Kind:   schema.NodeKindCondition,
		Config: schema.NodeConfig{ConditionExpr: "Is the summary good enough?"},
	}
	if got := Classify(natural); got != schema.ClassAgent {
		t.Errorf("natural-language condition classified %s, want agent", got)
	}
}

func TestClassify_UnknownKindDefaultsToAgent(t *testing.T) {
	if got := Classify(node("x", schema.NodeKind("hologram"))); got != schema.ClassAgent {
		t.Errorf("unknown kind classified %s, want agent", got)
	}
}

// --- structured condition detection ---

func TestIsStructuredCondition(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{"true", true},
		{"FALSE", true},
		{"  yes ", true},
		{"no", true},
		{"input.status === 200", true},
		{"input.count >= 10", true},
		{"result.ok != false", true},
		{"a < b", true},
		{"score > 0.5", true},
		{"x !== y", true},
		{"", false},
		{"Is this valid?", false},
		{"check whether the user sounds upset", false},
		{"=== 200", false},
		{"input.status ===", false},
		{"maybe", false},
	}

	for _, tc := range cases {
		if got := IsStructuredCondition(tc.expr); got != tc.want {
			t.Errorf("IsStructuredCondition(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestIsBooleanLiteral(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{"true", true},
		{"FALSE", true},
		{"  yes ", true},
		{"No", true},
		{"maybe", false},
		{"input.ok == true", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := IsBooleanLiteral(tc.expr); got != tc.want {
			t.Errorf("IsBooleanLiteral(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}
