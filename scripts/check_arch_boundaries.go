package main

import (
	"bufio"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// layers lists, per internal package, the internal packages it may import.
var layers = map[string][]string{
	"cli":       {"chart", "dataset", "launch", "model", "publish", "results", "sam2", "settings", "workspace"},
	"workspace": {"dataset", "runstore", "sam2", "settings"},
	"launch":    {"balance", "dataset", "model", "runstore", "sam2"},
	"settings":  {"dataset", "runstore", "sam2"},
	"chart":     {"results", "runstore"},
	"publish":   {"results"},
	"dataset":   {"runstore"},
	"balance":   nil,
	"model":     nil,
	"results":   nil,
	"runstore":  nil,
	"sam2":      nil,
}

// Binaries under cmd/ only talk to the CLI layer.
var commandImports = []string{"cli"}

type importEdge struct {
	file string
	from string // "internal/<pkg>" or "cmd/<bin>"
	to   string // internal package name
}

func main() {
	mod, err := readModulePath("go.mod")
	if err != nil {
		fail(err)
	}
	edges, seen, err := collectEdges(".", mod)
	if err != nil {
		fail(err)
	}

	problems := checkEdges(edges)
	problems = append(problems, staleRules(seen)...)
	if len(problems) > 0 {
		fmt.Fprintln(os.Stderr, "architecture boundary violations detected:")
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "- %s\n", p)
		}
		os.Exit(1)
	}
	fmt.Printf("architecture boundary check: OK (%d internal imports)\n", len(edges))
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "boundary check failed: %v\n", err)
	os.Exit(1)
}

func readModulePath(goMod string) (string, error) {
	f, err := os.Open(goMod)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "module "); ok {
			return strings.Trim(strings.TrimSpace(rest), `"`), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", errors.New("no module line in " + goMod)
}

// collectEdges parses non-test files under internal/ and cmd/ and returns
// every import of an internal package, plus the set of internal packages found.
func collectEdges(root, mod string) ([]importEdge, map[string]bool, error) {
	prefix := mod + "/internal/"
	edges := []importEdge{}
	seen := map[string]bool{}

	for _, top := range []string{"internal", "cmd"} {
		base := filepath.Join(root, top)
		if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil || d.IsDir() {
				return walkErr
			}
			if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			parts := strings.Split(filepath.ToSlash(rel), "/")
			if len(parts) < 3 {
				return nil
			}
			from := parts[0] + "/" + parts[1]
			if parts[0] == "internal" {
				seen[parts[1]] = true
			}

			file, err := parser.ParseFile(token.NewFileSet(), path, nil, parser.ImportsOnly)
			if err != nil {
				return err
			}
			for _, imp := range file.Imports {
				target, err := strconv.Unquote(imp.Path.Value)
				if err != nil || !strings.HasPrefix(target, prefix) {
					continue
				}
				pkg, _, _ := strings.Cut(strings.TrimPrefix(target, prefix), "/")
				if pkg != "" && from != "internal/"+pkg {
					edges = append(edges, importEdge{file: filepath.ToSlash(rel), from: from, to: pkg})
				}
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return edges, seen, nil
}

func checkEdges(edges []importEdge) []string {
	problems := []string{}
	for _, e := range edges {
		kind, name, _ := strings.Cut(e.from, "/")
		var allowedTargets []string
		if kind == "cmd" {
			allowedTargets = commandImports
		} else {
			targets, known := layers[name]
			if !known {
				problems = append(problems, fmt.Sprintf("%s: package %q has no layer rule", e.file, name))
				continue
			}
			allowedTargets = targets
		}
		if !contains(allowedTargets, e.to) {
			problems = append(problems, fmt.Sprintf("%s: %s -> internal/%s is forbidden", e.file, e.from, e.to))
		}
	}
	return problems
}

// staleRules reports layer rules for packages that no longer exist.
func staleRules(seen map[string]bool) []string {
	names := make([]string, 0, len(layers))
	for name := range layers {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, fmt.Sprintf("layer rule for missing package internal/%s", n))
	}
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
