package connectome

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func writeMatrix(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "connectome.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_WhitespaceSeparated(t *testing.T) {
	path := writeMatrix(t, "0 12 3\n12 0 0\n3 0 0\n")

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r, c := m.Dims()
	if r != 3 || c != 3 {
		t.Fatalf("dims = %dx%d", r, c)
	}
	if m.At(0, 1) != 12 {
		t.Errorf("m[0,1] = %g", m.At(0, 1))
	}
}

func TestLoad_CommaSeparated(t *testing.T) {
	path := writeMatrix(t, "0,1.5\n1.5,0\n")

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.At(1, 0) != 1.5 {
		t.Errorf("m[1,0] = %g", m.At(1, 0))
	}
}

func TestLoad_RaggedRows(t *testing.T) {
	path := writeMatrix(t, "0 1\n0 1 2\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for ragged rows")
	}
}

func TestLoad_Empty(t *testing.T) {
	path := writeMatrix(t, "\n\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty matrix")
	}
}

func TestSummarize(t *testing.T) {
	m := mat.NewDense(3, 3, []float64{
		0, 4, 0,
		4, 0, 2,
		0, 2, 0,
	})

	s, err := Summarize(m)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Nodes != 3 {
		t.Errorf("nodes = %d", s.Nodes)
	}
	if s.Edges != 2 {
		t.Errorf("edges = %d, want 2", s.Edges)
	}
	if math.Abs(s.Density-2.0/3.0) > 1e-9 {
		t.Errorf("density = %g", s.Density)
	}
	if s.TotalWeight != 6 {
		t.Errorf("total weight = %g", s.TotalWeight)
	}
	if !s.Symmetric {
		t.Error("matrix should be symmetric")
	}
}

func TestSummarize_Asymmetric(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{0, 1, 2, 0})
	s, err := Summarize(m)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Symmetric {
		t.Error("matrix should not be symmetric")
	}
}

func TestSummarize_NotSquare(t *testing.T) {
	m := mat.NewDense(2, 3, nil)
	if _, err := Summarize(m); err == nil {
		t.Fatal("expected error for non-square matrix")
	}
}
