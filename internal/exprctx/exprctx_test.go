package exprctx

import "testing"

func TestTranslateBlankAndComment(t *testing.T) {
	for _, line := range []string{"", "   ", "; a full comment"} {
		r, err := Translate(line, Context{})
		if err != nil {
			t.Fatalf("Translate(%q): %v", line, err)
		}
		if r.Line != "" {
			t.Fatalf("Translate(%q) = %q, want empty", line, r.Line)
		}
	}
}

func TestTranslateWaitSentinel(t *testing.T) {
	r, err := Translate("%wait", Context{})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !r.IsWait {
		t.Fatal("expected IsWait true")
	}
	if r.Line != "G4 P0.5" {
		t.Fatalf("expected %%wait to translate to a dwell line, got %q", r.Line)
	}
}

func TestTranslateAssignment(t *testing.T) {
	r, err := Translate("%x=1+2", Context{})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !r.IsAssignment {
		t.Fatal("expected IsAssignment true")
	}
	if r.Line != "" {
		t.Fatalf("assignment must not emit a line, got %q", r.Line)
	}
	v, ok := r.NewContext["x"]
	if !ok || v.(float64) != 3 {
		t.Fatalf("expected x=3 in new context, got %v", r.NewContext)
	}
}

func TestTranslateAssignmentChaining(t *testing.T) {
	r1, err := Translate("%x=5", Context{})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	r2, err := Translate("G0 X[x]", r1.NewContext)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if r2.Line != "G0 X5" {
		t.Fatalf("expected substitution to use the assigned context, got %q", r2.Line)
	}
}

func TestTranslateBracketSubstitution(t *testing.T) {
	ctx := Context{"tool": 3.0}
	r, err := Translate("T[tool] M6", ctx)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if r.Line != "T3 M6" {
		t.Fatalf("got %q, want %q", r.Line, "T3 M6")
	}
}

func TestTranslateBracketArithmetic(t *testing.T) {
	ctx := Context{"x": 2.0, "y": 3.0}
	r, err := Translate("G0 X[x+y]", ctx)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if r.Line != "G0 X5" {
		t.Fatalf("got %q, want %q", r.Line, "G0 X5")
	}
}

func TestTranslateUndefinedIdentifierErrors(t *testing.T) {
	_, err := Translate("G0 X[undefined]", Context{})
	if err == nil {
		t.Fatal("expected error for undefined identifier")
	}
}

func TestTranslateDivisionByZeroErrors(t *testing.T) {
	_, err := Translate("%x=1/0", Context{})
	if err == nil {
		t.Fatal("expected error for division by zero")
	}
}

func TestTranslateInlineCommentStripped(t *testing.T) {
	r, err := Translate("G0 X1 ; move", Context{})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if r.Line != "G0 X1" {
		t.Fatalf("got %q, want trailing comment stripped", r.Line)
	}
}

func TestContextCloneIsIndependent(t *testing.T) {
	base := Context{"a": 1.0}
	clone := base.Clone()
	clone["a"] = 2.0
	if base["a"].(float64) != 1.0 {
		t.Fatal("Clone must not share storage with the original")
	}
}
