package docparse

import (
	"fmt"
	"os"
)

// #region registry
// Parser turns a document into a ParsedInput. seed is nil when the caller did not pick one.
type Parser func(path string, content []byte, seed *int64) (ParsedInput, error)

// Predicate reports whether a parser understands the document.
type Predicate func(path string, content []byte) bool

// Entry pairs a predicate with the parser it selects.
type Entry struct {
	Name   Format
	Match  Predicate
	Parser Parser
}

// Registry is an ordered parser table. The first matching entry wins.
type Registry []Entry

// DefaultRegistry tries TSC YAML, then cellular automaton frames, then the stub.
func DefaultRegistry() Registry {
	return Registry{
		{Name: FormatTSCYAML, Match: IsTSCYAML, Parser: ParseTSCYAML},
		{Name: FormatCellular, Match: IsCellularAutomaton, Parser: ParseCellularAutomaton},
		{Name: FormatStub, Match: func(string, []byte) bool { return true }, Parser: ParseStub},
	}
}

// Select returns the first entry whose predicate matches.
func (r Registry) Select(path string, content []byte) (Entry, bool) {
	for _, e := range r {
		if e.Match(path, content) {
			return e, true
		}
	}
	return Entry{}, false
}

// Parse dispatches already-read content.
func (r Registry) Parse(path string, content []byte, seed *int64) (ParsedInput, error) {
	e, ok := r.Select(path, content)
	if !ok {
		return ParsedInput{}, fmt.Errorf("no parser for %s", path)
	}
	in, err := e.Parser(path, content, seed)
	if err != nil {
		return ParsedInput{}, fmt.Errorf("%s parser: %w", e.Name, err)
	}
	return in, nil
}

// ParseFile reads path and dispatches it through the registry.
func (r Registry) ParseFile(path string, seed *int64) (ParsedInput, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return ParsedInput{}, fmt.Errorf("read document: %w", err)
	}
	return r.Parse(path, content, seed)
}

// ParseFile parses path with the default registry.
func ParseFile(path string, seed *int64) (ParsedInput, error) {
	return DefaultRegistry().ParseFile(path, seed)
}

// #endregion registry

// peek returns at most the first n bytes of content.
func peek(content []byte, n int) string {
	if len(content) > n {
		content = content[:n]
	}
	return string(content)
}
