package index

import (
	"testing"

	"github.com/codegrove/codesearch/internal/index/querylang"
)

func TestBuildQuery_DefaultMatchAllWhenNoClauses(t *testing.T) {
	q := buildQuery(nil, nil)
	boolQuery := q["bool"].(map[string]interface{})
	must := boolQuery["must"].([]map[string]interface{})
	if len(must) != 1 {
		t.Fatalf("expected a single match_all clause, got %d", len(must))
	}
	if _, ok := must[0]["match_all"]; !ok {
		t.Errorf("expected match_all, got %+v", must[0])
	}
}

func TestBuildQuery_ExcludedTermGoesToMustNot(t *testing.T) {
	clauses := []querylang.Clause{{Kind: querylang.KindTerm, Value: "foo", Exclude: true}}
	q := buildQuery(clauses, nil)
	boolQuery := q["bool"].(map[string]interface{})
	mustNot := boolQuery["must_not"].([]map[string]interface{})
	if len(mustNot) != 1 {
		t.Fatalf("expected excluded term in must_not, got %+v", mustNot)
	}
}

func TestBuildFilterClauses_SkipsEmptyValueSets(t *testing.T) {
	clauses := buildFilterClauses([]Filter{
		{Field: "extension", Values: []string{"go", "rs"}},
		{Field: "project", Values: nil},
	})
	if len(clauses) != 1 {
		t.Fatalf("expected 1 filter clause, got %d", len(clauses))
	}
}

func TestBuildSort_DefaultsToRelevanceWithIDTiebreak(t *testing.T) {
	sortSpec := buildSort("")
	if len(sortSpec) != 2 {
		t.Fatalf("expected score + id tiebreak, got %+v", sortSpec)
	}
	if _, ok := sortSpec[0]["_score"]; !ok {
		t.Errorf("expected _score as primary sort, got %+v", sortSpec[0])
	}
	if _, ok := sortSpec[1]["_id"]; !ok {
		t.Errorf("expected _id as tiebreak, got %+v", sortSpec[1])
	}
}

func TestClassifyBulkFailure(t *testing.T) {
	cases := map[string]string{
		"mapper_parsing_exception":      "decode",
		"circuit_breaking_exception":    "size",
		"some_other_internal_exception": "backend",
	}
	for esType, want := range cases {
		if got := classifyBulkFailure(esType); got != want {
			t.Errorf("classifyBulkFailure(%q) = %q, want %q", esType, got, want)
		}
	}
}
