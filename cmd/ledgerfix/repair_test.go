package main

import (
	"bytes"
	"strings"
	"testing"

	"ledgerfix/internal/infer"
)

func TestPromptAccept(t *testing.T) {
	in := strings.NewReader("y\nno\nYES\n maybe \n")
	var out bytes.Buffer
	accept := promptAccept(in, &out)

	s := infer.Suggestion{Table: "invoices", RowIndex: 2, Column: "fund_id",
		ProposedValue: "F1", Rule: infer.RuleMajorityVote, Confidence: 0.8}

	answers := make([]bool, 0, 4)
	for i := 0; i < 4; i++ {
		ok, err := accept(s)
		if err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
		answers = append(answers, ok)
	}
	want := []bool{true, false, true, false}
	for i := range want {
		if answers[i] != want[i] {
			t.Fatalf("answers = %v, want %v", answers, want)
		}
	}
	if !strings.Contains(out.String(), `invoices row 2: set fund_id to "F1" (majority_vote, confidence 0.80)? [y/N]`) {
		t.Fatalf("prompt = %q", out.String())
	}
}

func TestPromptAccept_EOFDeclines(t *testing.T) {
	accept := promptAccept(strings.NewReader(""), &bytes.Buffer{})
	for i := 0; i < 2; i++ {
		ok, err := accept(infer.Suggestion{Table: "invoices"})
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		if ok {
			t.Fatalf("EOF accepted a suggestion")
		}
	}
}
