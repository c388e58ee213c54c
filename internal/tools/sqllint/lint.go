package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	sqlKeywordPattern = regexp.MustCompile(`(?i)^\s*(--[^\n]*\n\s*)*(select|insert|update|delete|with)\b`)
	uuidMarkerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", v.file, v.line, v.message, v.name)
}

type query struct {
	file   string
	name   string
	line   int
	marker string
}

// lintPaths checks every .go file under targets, skipping tests, hidden
// directories and vendor trees.
func lintPaths(targets []string) ([]violation, error) {
	var queries []query
	var violations []violation
	collect := func(path string) error {
		qs, vs, err := lintFile(path)
		if err != nil {
			return err
		}
		queries = append(queries, qs...)
		violations = append(violations, vs...)
		return nil
	}

	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if isLintable(target) {
				if err := collect(target); err != nil {
					return nil, err
				}
			}
			continue
		}
		err = filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
					return filepath.SkipDir
				}
				return nil
			}
			if !isLintable(path) {
				return nil
			}
			return collect(path)
		})
		if err != nil {
			return nil, err
		}
	}
	return append(violations, duplicates(queries)...), nil
}

func isLintable(path string) bool {
	return filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go")
}

func lintFile(path string) ([]query, []violation, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return lintSource(path, src)
}

// lintSource inspects string constants and variables in src that look like
// SQL statements.
func lintSource(name string, src []byte) ([]query, []violation, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, name, src, parser.ParseComments)
	if err != nil {
		return nil, nil, err
	}
	var (
		queries    []query
		violations []violation
	)
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil || !sqlKeywordPattern.MatchString(raw) {
				continue
			}
			pos := fset.Position(bl.Pos())
			ident := joinNames(vs.Names)
			if i < len(vs.Names) {
				ident = vs.Names[i].Name
			}
			marker := firstLine(raw)
			if !uuidMarkerPattern.MatchString(marker) {
				violations = append(violations, violation{
					file:    name,
					line:    pos.Line,
					name:    ident,
					message: "missing or invalid --sql <uuid> marker",
				})
				continue
			}
			queries = append(queries, query{file: name, name: ident, line: pos.Line, marker: marker})
		}
		return true
	})
	return queries, violations, nil
}

func duplicates(queries []query) []violation {
	byMarker := make(map[string][]query)
	for _, q := range queries {
		byMarker[q.marker] = append(byMarker[q.marker], q)
	}
	var out []violation
	for marker, qs := range byMarker {
		if len(qs) < 2 {
			continue
		}
		for _, q := range qs[1:] {
			out = append(out, violation{
				file:    q.file,
				line:    q.line,
				name:    q.name,
				message: fmt.Sprintf("marker %q already used by %s", strings.TrimPrefix(marker, "--sql "), qs[0].name),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].file != out[j].file {
			return out[i].file < out[j].file
		}
		return out[i].line < out[j].line
	})
	return out
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident == nil {
			continue
		}
		parts = append(parts, ident.Name)
	}
	return strings.Join(parts, ",")
}
