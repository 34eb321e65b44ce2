package docparse

import (
	"math"
	"regexp"
	"strings"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// Grid is a binary cellular automaton frame, row-major, rectangular.
type Grid [][]int

const peekBytes = 1500

var (
	frameHeader = regexp.MustCompile(`(?im)^\s{0,3}#{3,}\s*frame\b.*$`)
	fencedBlock = map[string]*regexp.Regexp{
		"life":  regexp.MustCompile("(?is)```life\\s*\\n(.*?)\\n```"),
		"cells": regexp.MustCompile("(?is)```cells\\s*\\n(.*?)\\n```"),
	}
)

// #region predicate
// IsCellularAutomaton reports whether the head of a document looks like Life frames:
// a "### Frame" heading, a life/cells fence, or three consecutive grid-like lines.
func IsCellularAutomaton(_ string, content []byte) bool {
	text := strings.ToLower(peek(content, peekBytes))
	if strings.Contains(text, "### frame") || strings.Contains(text, "```life") || strings.Contains(text, "```cells") {
		return true
	}

	lines := strings.Split(text, "\n")
	if len(lines) > 200 {
		lines = lines[:200]
	}
	run := 0
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln != "" && onlyChars(ln, "#o.01 ") {
			run++
			if run >= 3 {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

// #endregion predicate

// #region parser
// ParseCellularAutomaton measures coherence from adjacency agreement within frames and
// witness health from density and frame-to-frame stability. Documents with no usable
// frames fall back to the stub.
func ParseCellularAutomaton(path string, content []byte, _ *int64) (ParsedInput, error) {
	frames := ExtractFrames(string(content))
	if len(frames) == 0 {
		return stubInput(path), nil
	}

	pick := func(indices []verify.Index) []Grid {
		out := make([]Grid, 0, len(indices))
		for _, i := range indices {
			if int(i) >= 0 && int(i) < len(frames) {
				out = append(out, frames[i])
			}
		}
		return out
	}

	env := verify.EnvFuncs{
		Sample: func(state.State, verify.VerifyPolicy) []verify.Index { return verify.Range(len(frames)) },
		Metrics: func(indices []verify.Index) verify.Metrics {
			return gridMetrics(pick(indices))
		},
		Witnesses: func(indices []verify.Index) verify.WitnessStatus {
			selected := pick(indices)
			density := meanDensity(selected)
			stability := temporalStability(selected)
			return verify.WitnessStatus{
				HVariance:  0.01 + 0.04*(1-math.Abs(0.3-density)),
				HEntropy:   0.10 + 0.40*stability,
				HLipschitz: 0.02 + 0.06*(1-density),
				DEntropy:   0.10 + 0.35*stability,
				DVariance:  0.010 + 0.020*(1-stability),
			}
		},
		OOD: func(indices []verify.Index) verify.OODStatus {
			dist := math.Abs(meanDensity(pick(indices)) - 0.30)
			return verify.OODStatus{Zt: dist, Zcrit: math.Max(0, 1-2*dist)}
		},
	}

	in := newParsedInput(FormatCellular, env)
	in.Config.Theta = 0.80
	return in, nil
}

func gridMetrics(frames []Grid) verify.Metrics {
	var hs, vs, ds float64
	for _, g := range frames {
		h, v, d := adjacencyCoherence(g)
		hs += h
		vs += v
		ds += d
	}
	var m verify.Metrics
	if n := float64(len(frames)); n > 0 {
		m.HC, m.VC, m.DC = hs/n, vs/n, ds/n
	}
	m.CSigma = 0.5*m.HC + 0.3*m.VC + 0.2*m.DC
	m.CI = verify.Interval{Lo: math.Max(m.CSigma-0.05, 0), Hi: math.Min(m.CSigma+0.05, 1)}
	return m
}

// #endregion parser

// #region frames
// ExtractFrames pulls binary grids from fenced life/cells blocks and "### Frame"
// sections, or from bare grid paragraphs when neither is present. Duplicates are dropped,
// first occurrence kept.
func ExtractFrames(markdown string) []Grid {
	var blocks [][]string
	for _, tag := range []string{"life", "cells"} {
		blocks = append(blocks, fencedGrids(markdown, fencedBlock[tag])...)
	}
	blocks = append(blocks, frameSections(markdown)...)
	if len(blocks) == 0 {
		blocks = bareGrids(markdown)
	}

	var frames []Grid
	seen := make(map[string]bool)
	for _, lines := range blocks {
		g := toGrid(lines)
		if len(g) == 0 {
			continue
		}
		key := g.key()
		if seen[key] {
			continue
		}
		seen[key] = true
		frames = append(frames, g)
	}
	return frames
}

func fencedGrids(text string, rx *regexp.Regexp) [][]string {
	var blocks [][]string
	for _, m := range rx.FindAllStringSubmatch(text, -1) {
		var lines []string
		for _, ln := range strings.Split(m[1], "\n") {
			if strings.TrimSpace(ln) != "" {
				lines = append(lines, strings.TrimRight(ln, " \t\r"))
			}
		}
		if looksLikeGrid(lines) {
			blocks = append(blocks, lines)
		}
	}
	return blocks
}

func frameSections(text string) [][]string {
	lines := strings.Split(text, "\n")
	var headers []int
	for i, ln := range lines {
		if frameHeader.MatchString(ln) {
			headers = append(headers, i)
		}
	}

	var blocks [][]string
	for k, start := range headers {
		end := len(lines)
		if k+1 < len(headers) {
			end = headers[k+1]
		}
		var grid []string
		for _, ln := range lines[start+1 : end] {
			if strings.TrimSpace(ln) == "" {
				continue
			}
			ln = strings.TrimRight(ln, " \t\r")
			if onlyChars(ln, "#Oo.01 ") {
				grid = append(grid, ln)
			}
		}
		if looksLikeGrid(grid) {
			blocks = append(blocks, grid)
		}
	}
	return blocks
}

func bareGrids(text string) [][]string {
	var blocks [][]string
	var cur []string
	flush := func() {
		if looksLikeGrid(cur) {
			blocks = append(blocks, cur)
		}
		cur = nil
	}
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.TrimRight(ln, " \t\r")
		if ln != "" && onlyChars(ln, "#Oo.01 ") {
			cur = append(cur, ln)
			continue
		}
		flush()
	}
	flush()
	return blocks
}

// looksLikeGrid requires at least three rows, width three, and 5% live cells.
func looksLikeGrid(lines []string) bool {
	if len(lines) < 3 {
		return false
	}
	width, total, live := 0, 0, 0
	for _, ln := range lines {
		width = max(width, len(ln))
		total += len(ln)
		live += strings.Count(ln, "#") + strings.Count(ln, "O") + strings.Count(ln, "o") + strings.Count(ln, "1")
	}
	if width < 3 || total == 0 {
		return false
	}
	return float64(live)/float64(total) >= 0.05
}

func toGrid(lines []string) Grid {
	if len(lines) == 0 {
		return nil
	}
	width := 0
	for _, ln := range lines {
		width = max(width, len(ln))
	}
	g := make(Grid, len(lines))
	for r, ln := range lines {
		row := make([]int, width)
		for c := 0; c < len(ln); c++ {
			switch ln[c] {
			case '#', 'O', 'o', '1':
				row[c] = 1
			}
		}
		g[r] = row
	}
	return g
}

func (g Grid) key() string {
	var b strings.Builder
	for _, row := range g {
		for _, v := range row {
			b.WriteByte(byte('0' + v))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func onlyChars(s, allowed string) bool {
	for _, r := range s {
		if !strings.ContainsRune(allowed, r) {
			return false
		}
	}
	return true
}

// #endregion frames

// #region measures
// adjacencyCoherence returns the fraction of equal neighbour pairs horizontally,
// vertically, and along both diagonals combined.
func adjacencyCoherence(g Grid) (h, v, d float64) {
	if len(g) == 0 || len(g[0]) == 0 {
		return 0, 0, 0
	}
	rows, cols := len(g), len(g[0])
	ratio := func(eq, tot int) float64 {
		if tot == 0 {
			return 0
		}
		return float64(eq) / float64(tot)
	}

	eq, tot := 0, 0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols-1; c++ {
			if g[r][c] == g[r][c+1] {
				eq++
			}
			tot++
		}
	}
	h = ratio(eq, tot)

	eq, tot = 0, 0
	for r := 0; r < rows-1; r++ {
		for c := 0; c < cols; c++ {
			if g[r][c] == g[r+1][c] {
				eq++
			}
			tot++
		}
	}
	v = ratio(eq, tot)

	eq, tot = 0, 0
	for r := 0; r < rows-1; r++ {
		for c := 0; c < cols-1; c++ {
			if g[r][c] == g[r+1][c+1] {
				eq++
			}
			if g[r][c+1] == g[r+1][c] {
				eq++
			}
			tot += 2
		}
	}
	d = ratio(eq, tot)
	return h, v, d
}

func meanDensity(frames []Grid) float64 {
	tot, live := 0, 0
	for _, g := range frames {
		for _, row := range g {
			tot += len(row)
			for _, v := range row {
				live += v
			}
		}
	}
	if tot == 0 {
		return 0
	}
	return float64(live) / float64(tot)
}

// temporalStability is the mean Jaccard similarity of consecutive frames, 1 for fewer
// than two frames.
func temporalStability(frames []Grid) float64 {
	if len(frames) < 2 {
		return 1
	}
	sum := 0.0
	for i := 1; i < len(frames); i++ {
		sum += jaccard(frames[i-1], frames[i])
	}
	return sum / float64(len(frames)-1)
}

func jaccard(a, b Grid) float64 {
	if len(a) == 0 || len(a[0]) == 0 || len(b) == 0 || len(b[0]) == 0 {
		return 0
	}
	rows := min(len(a), len(b))
	cols := min(len(a[0]), len(b[0]))
	inter, union := 0, 0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			av, bv := a[r][c] == 1, b[r][c] == 1
			if av && bv {
				inter++
			}
			if av || bv {
				union++
			}
		}
	}
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

// #endregion measures
