package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/genomebridge/genome-bridge/internal/config"
	"github.com/genomebridge/genome-bridge/internal/tool"
)

func TestTableCoversEveryServerTool(t *testing.T) {
	reg, err := tool.Load()
	if err != nil {
		t.Fatalf("load catalogue: %v", err)
	}
	if err := Verify(reg, Table()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsStrayHandler(t *testing.T) {
	reg, err := tool.Load()
	if err != nil {
		t.Fatal(err)
	}
	table := Table()
	table["no_such_tool"] = func(context.Context, *Ctx, map[string]any) (map[string]any, error) {
		return nil, nil
	}
	if err := Verify(reg, table); err == nil {
		t.Fatal("Verify accepted a handler for an unknown tool")
	}
}

func TestEVO2SimulatedGenerationIsDeterministic(t *testing.T) {
	h := &Ctx{Opts: &config.Options{}} // no endpoint configured
	args := map[string]any{"prompt": "ATGGCC", "num_tokens": float64(32)}

	first, err := evo2Generate(context.Background(), h, args)
	if err != nil {
		t.Fatal(err)
	}
	second, err := evo2Generate(context.Background(), h, args)
	if err != nil {
		t.Fatal(err)
	}
	if first["simulated"] != true {
		t.Error("expected simulated flag without a configured endpoint")
	}
	if first["generated"] != second["generated"] {
		t.Error("simulated generation is not deterministic for the same prompt")
	}
	if len(first["generated"].(string)) != 32 {
		t.Errorf("generated length = %d, want 32", len(first["generated"].(string)))
	}
}

func TestEVO2SimulatedScoreIsStable(t *testing.T) {
	h := &Ctx{Opts: &config.Options{}}
	a, err := evo2Score(context.Background(), h, map[string]any{"sequence": "ATCGATCGATCG"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := evo2Score(context.Background(), h, map[string]any{"sequence": "ATCGATCGATCG"})
	if err != nil {
		t.Fatal(err)
	}
	if a["log_likelihood"] != b["log_likelihood"] {
		t.Error("simulated score differs between identical calls")
	}
	if ll := a["log_likelihood"].(float64); ll >= 0 {
		t.Errorf("log_likelihood = %v, want negative", ll)
	}
}

func TestEVO2ScoreAveragesEndpointLogprobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","object":"text_completion","model":"evo2-40b",`+
			`"choices":[{"text":"ATCG","index":0,`+
			`"logprobs":{"tokens":["A","T","C","G"],"token_logprobs":[-0.5,-1.5,-0.5,-1.5]},`+
			`"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	h := &Ctx{Opts: &config.Options{EVO2BaseURL: srv.URL}}
	got, err := evo2Score(context.Background(), h, map[string]any{"sequence": "ATCG"})
	if err != nil {
		t.Fatal(err)
	}
	if got["simulated"] != false {
		t.Error("configured endpoint must not be marked simulated")
	}
	if got["log_likelihood"] != -1.0 {
		t.Errorf("log_likelihood = %v, want the token average -1", got["log_likelihood"])
	}
}

func TestEVO2PredictFunctionReportsDelta(t *testing.T) {
	h := &Ctx{Opts: &config.Options{}}
	got, err := evo2PredictFunction(context.Background(), h, map[string]any{
		"reference": "ATGGCCATTGTAATG",
		"alternate": "ATGGCCATTGTAATG",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got["delta"] != 0.0 {
		t.Errorf("delta = %v, want 0 for identical sequences", got["delta"])
	}
	if got["impact"] != "neutral" {
		t.Errorf("impact = %v, want neutral", got["impact"])
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"s":    "hello",
		"f":    float64(7),
		"b":    true,
		"list": []any{"a", "b", float64(1)},
	}
	if strArg(args, "s") != "hello" || strArg(args, "missing") != "" {
		t.Error("strArg mismatch")
	}
	if intArg(args, "f", 0) != 7 || intArg(args, "missing", 9) != 9 {
		t.Error("intArg mismatch")
	}
	if !boolArg(args, "b", false) || boolArg(args, "missing", true) != true {
		t.Error("boolArg mismatch")
	}
	if got := strsArg(args, "list"); len(got) != 2 || got[0] != "a" {
		t.Errorf("strsArg = %v, want [a b]", got)
	}
}
