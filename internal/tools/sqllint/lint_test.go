package main

import (
	"strings"
	"testing"
)

func TestLintSource(t *testing.T) {
	src := "package q\n\n" +
		"const QGood = `--sql 3c1f4b0e-92d6-4e0b-a8a4-6f2c1de07b55\nselect 1;`\n" +
		"const QMissing = `select 2;`\n" +
		"const QBadMarker = \"--sql not-a-uuid\\ninsert into t values (1)\"\n" +
		"const Greeting = \"hello\"\n"

	queries, violations, err := lintSource("q.go", []byte(src))
	if err != nil {
		t.Fatalf("lintSource error: %v", err)
	}
	if len(queries) != 1 || queries[0].name != "QGood" {
		t.Fatalf("queries = %+v, want QGood only", queries)
	}
	if len(violations) != 2 {
		t.Fatalf("violations = %v, want 2", violations)
	}
	if violations[0].name != "QMissing" || violations[1].name != "QBadMarker" {
		t.Fatalf("unexpected violations: %v", violations)
	}
	if violations[0].line != 4 {
		t.Fatalf("line = %d, want 4", violations[0].line)
	}
}

func TestDuplicates(t *testing.T) {
	marker := "--sql 3c1f4b0e-92d6-4e0b-a8a4-6f2c1de07b55"
	got := duplicates([]query{
		{file: "a.go", name: "QA", line: 3, marker: marker},
		{file: "b.go", name: "QB", line: 7, marker: marker},
	})
	if len(got) != 1 || got[0].name != "QB" || !strings.Contains(got[0].message, "QA") {
		t.Fatalf("duplicates = %v", got)
	}
}

func TestInlineQueriesCarryMarkers(t *testing.T) {
	violations, err := lintPaths([]string{"../../sqlinline"})
	if err != nil {
		t.Fatalf("lintPaths error: %v", err)
	}
	for _, v := range violations {
		t.Errorf("%s", v)
	}
}
