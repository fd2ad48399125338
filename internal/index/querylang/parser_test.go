package querylang

import "testing"

func TestParse_BareTerms(t *testing.T) {
	clauses := Parse("foo bar")
	if len(clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %d", len(clauses))
	}
	if clauses[0].Value != "foo" || clauses[1].Value != "bar" {
		t.Errorf("unexpected clauses: %+v", clauses)
	}
}

func TestParse_Phrase(t *testing.T) {
	clauses := Parse(`"hello world" foo`)
	if len(clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %+v", clauses)
	}
	if clauses[0].Kind != KindPhrase || clauses[0].Value != "hello world" {
		t.Errorf("expected phrase clause, got %+v", clauses[0])
	}
}

func TestParse_ExcludedTerm(t *testing.T) {
	clauses := Parse("foo -bar")
	if len(clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %+v", clauses)
	}
	if !clauses[1].Exclude || clauses[1].Value != "bar" {
		t.Errorf("expected excluded bar, got %+v", clauses[1])
	}
}

func TestParse_FieldRestriction(t *testing.T) {
	clauses := Parse("path:main.go")
	if len(clauses) != 1 {
		t.Fatalf("expected 1 clause, got %+v", clauses)
	}
	if clauses[0].Field != "path" || clauses[0].Value != "main.go" {
		t.Errorf("unexpected clause: %+v", clauses[0])
	}
}

func TestParse_UnknownFieldFallsBackToDefaultFields(t *testing.T) {
	clauses := Parse("frobnicate:thing")
	if len(clauses) != 1 {
		t.Fatalf("expected 1 clause, got %+v", clauses)
	}
	if clauses[0].Field != "" {
		t.Errorf("expected unknown field prefix to fall back to default fields, got field=%q", clauses[0].Field)
	}
	if got := clauses[0].Fields(); len(got) != len(DefaultFields) {
		t.Errorf("expected default fields, got %v", got)
	}
}

func TestParse_EmptyQuery(t *testing.T) {
	if clauses := Parse("   "); len(clauses) != 0 {
		t.Errorf("expected no clauses for blank query, got %+v", clauses)
	}
}

func TestParse_UnterminatedPhrase(t *testing.T) {
	clauses := Parse(`"unterminated`)
	if len(clauses) != 1 || clauses[0].Value != "unterminated" {
		t.Errorf("expected unterminated phrase to still be parsed, got %+v", clauses)
	}
}
