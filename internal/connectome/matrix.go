// Package connectome reads assembled connectivity matrices back in for
// inspection. The matrices are plain text, one row per atlas region,
// whitespace or comma separated, as written by the assembly tool.
package connectome

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Load parses a connectivity matrix from path. Every row must have the same
// number of columns.
func Load(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open connectome: %w", err)
	}
	defer f.Close()

	var data []float64
	rows, cols := 0, 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ','
		})
		if cols == 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", rows+1, len(fields), cols)
		}
		for _, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: parse %q: %w", rows+1, field, err)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read connectome: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("connectome %s is empty", path)
	}
	return mat.NewDense(rows, cols, data), nil
}

// Summary describes a loaded connectivity matrix.
type Summary struct {
	Nodes       int
	Edges       int     // nonzero entries above the diagonal
	Density     float64 // edges over possible undirected edges
	TotalWeight float64 // sum over the upper triangle
	Symmetric   bool
}

// Summarize computes summary statistics for a square connectivity matrix.
func Summarize(m *mat.Dense) (Summary, error) {
	r, c := m.Dims()
	if r != c {
		return Summary{}, fmt.Errorf("matrix is %dx%d, want square", r, c)
	}

	s := Summary{Nodes: r, Symmetric: true}
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			v := m.At(i, j)
			if v != m.At(j, i) {
				s.Symmetric = false
			}
			if v != 0 {
				s.Edges++
				s.TotalWeight += v
			}
		}
	}
	possible := r * (r - 1) / 2
	if possible > 0 {
		s.Density = float64(s.Edges) / float64(possible)
	}
	return s, nil
}
