package recon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasnoah/tckfactory/internal/artifact"
	"github.com/lucasnoah/tckfactory/internal/invoke"
	"github.com/lucasnoah/tckfactory/internal/runlog"
)

type call struct {
	name string
	args []string
}

func (c call) String() string {
	return c.name + " " + strings.Join(c.args, " ")
}

// fakeRunner records every invocation, can fail selected tools, and can run
// a hook to simulate tools writing their output files.
type fakeRunner struct {
	calls   []call
	fail    map[string]int // tool name -> exit code
	missing map[string]bool
	onRun   func(name string, args []string)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string) (string, string, int, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.onRun != nil {
		f.onRun(name, args)
	}
	if code, ok := f.fail[name]; ok {
		return "", name + " failed", code, nil
	}
	return "", "", 0, nil
}

func (f *fakeRunner) LookPath(name string) bool {
	return !f.missing[name]
}

func (f *fakeRunner) byTool(name string) []call {
	var out []call
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func newRecon(dir string, runner *fakeRunner, opts Options) *Recon {
	var buf strings.Builder
	log := runlog.New(&buf)
	inv := invoke.NewInvoker(runner, log, nil)
	dwi := artifact.New(filepath.Join(dir, "sub-01_dwi.nii.gz"))
	bval := artifact.New(filepath.Join(dir, "sub-01_dwi.bval"))
	bvec := artifact.New(filepath.Join(dir, "sub-01_dwi.bvec"))
	return New(dwi, bval, bvec, artifact.Artifact{}, inv, log, opts)
}

func TestConvertToMIF_Args(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	r := newRecon(dir, runner, Options{})

	out, err := r.ConvertToMIF(context.Background())
	if err != nil {
		t.Fatalf("ConvertToMIF: %v", err)
	}
	if out.Base() != "sub-01_dwi.mif" {
		t.Errorf("output = %q, want sub-01_dwi.mif", out.Base())
	}

	if len(runner.calls) != 1 || runner.calls[0].name != "mrconvert" {
		t.Fatalf("calls = %v", runner.calls)
	}
	got := runner.calls[0].String()
	if !strings.Contains(got, "-fslgrad "+filepath.Join(dir, "sub-01_dwi.bvec")+" "+filepath.Join(dir, "sub-01_dwi.bval")) {
		t.Errorf("gradient table not passed: %s", got)
	}
	if strings.Contains(got, "-json_import") {
		t.Errorf("json sidecar passed without one staged: %s", got)
	}
}

func TestConvertToMIF_GzipForceJSON(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	r := newRecon(dir, runner, Options{Gzip: true, Force: true})
	r.json = artifact.New(filepath.Join(dir, "sub-01_dwi.json"))

	out, err := r.ConvertToMIF(context.Background())
	if err != nil {
		t.Fatalf("ConvertToMIF: %v", err)
	}
	if out.Base() != "sub-01_dwi.mif.gz" {
		t.Errorf("output = %q, want sub-01_dwi.mif.gz", out.Base())
	}
	got := runner.calls[0].String()
	if !strings.HasPrefix(got, "mrconvert -force") {
		t.Errorf("-force must come first: %s", got)
	}
	if !strings.Contains(got, "-json_import "+filepath.Join(dir, "sub-01_dwi.json")) {
		t.Errorf("sidecar not imported: %s", got)
	}
}

func TestEstimateResponse_Names(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	r := newRecon(dir, runner, Options{})
	mif := artifact.New(filepath.Join(dir, "sub-01_dwi.mif"))

	res, err := r.EstimateResponse(context.Background(), mif, 3, 0.25)
	if err != nil {
		t.Fatalf("EstimateResponse: %v", err)
	}
	if res.WM.Base() != "sub-01_dwi_response_wm.txt" {
		t.Errorf("WM = %q", res.WM.Base())
	}
	if res.CSF.Base() != "sub-01_dwi_response_csf.txt" {
		t.Errorf("CSF = %q", res.CSF.Base())
	}

	got := runner.calls[0].String()
	if !strings.Contains(got, "dhollander") {
		t.Errorf("algorithm missing: %s", got)
	}
	if !strings.Contains(got, "-erode 3") || !strings.Contains(got, "-fa 0.25") {
		t.Errorf("tuning flags missing: %s", got)
	}
}

func TestUpsample_ExtensionFollowsInput(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	r := newRecon(dir, runner, Options{Upsampler: &resizeUpsampler{inv: invoke.NewInvoker(runner, runlog.New(&strings.Builder{}), nil)}})

	out, err := r.Upsample(context.Background(), artifact.New(filepath.Join(dir, "labels.nii.gz")), 1.5, "nearest")
	if err != nil {
		t.Fatalf("Upsample: %v", err)
	}
	if out.Base() != "labels_upsampled.mif.gz" {
		t.Errorf("output = %q, want labels_upsampled.mif.gz", out.Base())
	}

	got := runner.calls[0].String()
	if !strings.Contains(got, "-vox 1.5") || !strings.Contains(got, "-interp nearest") {
		t.Errorf("mrresize args = %s", got)
	}

	out, err = r.Upsample(context.Background(), artifact.New(filepath.Join(dir, "dwi.mif")), 1.5, "cubic")
	if err != nil {
		t.Fatalf("Upsample: %v", err)
	}
	if out.Base() != "dwi_upsampled.mif" {
		t.Errorf("output = %q, want dwi_upsampled.mif", out.Base())
	}
}

func TestUpsample_NoStrategyBound(t *testing.T) {
	dir := t.TempDir()
	r := newRecon(dir, &fakeRunner{}, Options{})

	if _, err := r.Upsample(context.Background(), artifact.New(filepath.Join(dir, "dwi.mif")), 1.5, "cubic"); err == nil {
		t.Fatal("expected error with no upsampler bound")
	}
}

func TestSelectUpsampler(t *testing.T) {
	log := runlog.New(&strings.Builder{})

	inv := invoke.NewInvoker(&fakeRunner{}, log, nil)
	u, err := SelectUpsampler(inv)
	if err != nil {
		t.Fatalf("SelectUpsampler: %v", err)
	}
	if u.Name() != "mrresize" {
		t.Errorf("selected %q, want mrresize when both resolve", u.Name())
	}

	inv = invoke.NewInvoker(&fakeRunner{missing: map[string]bool{"mrresize": true}}, log, nil)
	u, err = SelectUpsampler(inv)
	if err != nil {
		t.Fatalf("SelectUpsampler fallback: %v", err)
	}
	if u.Name() != "mrgrid" {
		t.Errorf("selected %q, want mrgrid fallback", u.Name())
	}

	inv = invoke.NewInvoker(&fakeRunner{missing: map[string]bool{"mrresize": true, "mrgrid": true}}, log, nil)
	_, err = SelectUpsampler(inv)
	var depErr *invoke.DependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("error type = %T, want *DependencyError", err)
	}
}

func TestCreateMask_SequenceAndCleanup(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	r := newRecon(dir, runner, Options{})
	mif := artifact.New(filepath.Join(dir, "sub-01_dwi.mif"))

	set, err := r.CreateMask(context.Background(), mif, 0.5)
	if err != nil {
		t.Fatalf("CreateMask: %v", err)
	}
	if set.Mask.Base() != "sub-01_dwi_brain_mask.mif" {
		t.Errorf("mask = %q", set.Mask.Base())
	}

	order := []string{"dwiextract", "fslmaths", "bet", "mrconvert", "mrconvert", "mrconvert"}
	if len(runner.calls) != len(order) {
		t.Fatalf("calls = %d, want %d: %v", len(runner.calls), len(order), runner.calls)
	}
	for i, want := range order {
		if runner.calls[i].name != want {
			t.Errorf("call %d = %q, want %q", i, runner.calls[i].name, want)
		}
	}

	bet := runner.byTool("bet")[0].String()
	if !strings.Contains(bet, "-R -m -f 0.5") {
		t.Errorf("bet args = %s", bet)
	}

	// The scratch directory must be gone.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "tmp_dir_") {
			t.Errorf("scratch dir %s left behind", e.Name())
		}
	}
}

func TestDeconvolveAndBiasCorrect_Names(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	r := newRecon(dir, runner, Options{})
	mif := artifact.New(filepath.Join(dir, "sub-01_dwi_upsampled.mif"))
	mask := artifact.New(filepath.Join(dir, "sub-01_dwi_brain_mask.mif"))
	res := Responses{
		WM:  artifact.New(filepath.Join(dir, "wm.txt")),
		GM:  artifact.New(filepath.Join(dir, "gm.txt")),
		CSF: artifact.New(filepath.Join(dir, "csf.txt")),
	}

	tis, err := r.Deconvolve(context.Background(), mif, mask, res)
	if err != nil {
		t.Fatalf("Deconvolve: %v", err)
	}
	if tis.WMFod.Base() != "sub-01_dwi_upsampled_wm_fod.mif" {
		t.Errorf("wm fod = %q", tis.WMFod.Base())
	}

	norm, err := r.BiasCorrect(context.Background(), tis, mask)
	if err != nil {
		t.Fatalf("BiasCorrect: %v", err)
	}
	if norm.WMFod.Base() != "sub-01_dwi_upsampled_wm_fod_norm.mif" {
		t.Errorf("normalised wm fod = %q", norm.WMFod.Base())
	}
	if got := runner.calls[1].String(); !strings.Contains(got, "-mask "+mask.Path()) {
		t.Errorf("mtnormalise mask missing: %s", got)
	}
}

func TestTractography_NameCarriesBudget(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	r := newRecon(dir, runner, Options{})
	fod := artifact.New(filepath.Join(dir, "fod.mif"))
	mask := artifact.New(filepath.Join(dir, "mask.mif"))

	tck, err := r.Tractography(context.Background(), fod, mask, 100000, 0.07)
	if err != nil {
		t.Fatalf("Tractography: %v", err)
	}
	if tck.Base() != "sub-01_dwi.100000.streamlines.tck" {
		t.Errorf("tck = %q", tck.Base())
	}
	got := runner.calls[0].String()
	if !strings.Contains(got, "-select 100000") || !strings.Contains(got, "-cutoff 0.07") {
		t.Errorf("tckgen args = %s", got)
	}
}

func TestFilterTracks_TermOptional(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	r := newRecon(dir, runner, Options{})
	tck := artifact.New(filepath.Join(dir, "sub-01_dwi.100000.streamlines.tck"))
	fod := artifact.New(filepath.Join(dir, "fod.mif"))
	mask := artifact.New(filepath.Join(dir, "mask.mif"))

	filt, err := r.FilterTracks(context.Background(), tck, fod, mask, 50000)
	if err != nil {
		t.Fatalf("FilterTracks: %v", err)
	}
	if filt.Base() != "sub-01_dwi.50000.streamlines.filtered.tck" {
		t.Errorf("filtered = %q", filt.Base())
	}
	if got := runner.calls[0].String(); !strings.Contains(got, "-term_number 50000") {
		t.Errorf("term missing: %s", got)
	}

	runner.calls = nil
	filt, err = r.FilterTracks(context.Background(), tck, fod, artifact.Artifact{}, 0)
	if err != nil {
		t.Fatalf("FilterTracks: %v", err)
	}
	if filt.Base() != "sub-01_dwi.streamlines.filtered.tck" {
		t.Errorf("filtered = %q", filt.Base())
	}
	got := runner.calls[0].String()
	if strings.Contains(got, "-term_number") || strings.Contains(got, "-proc_mask") {
		t.Errorf("optional flags passed when unset: %s", got)
	}
}

func TestDiffMetrics_TensorRemoved(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{
		onRun: func(name string, args []string) {
			if name == "dwi2tensor" {
				os.WriteFile(args[len(args)-1], []byte("x"), 0o644)
			}
		},
	}
	r := newRecon(dir, runner, Options{})
	dwi := artifact.New(filepath.Join(dir, "sub-01_dwi_upsampled.mif"))

	maps, err := r.DiffMetrics(context.Background(), dwi, artifact.Artifact{}, MetricSelection{FA: true, RD: true})
	if err != nil {
		t.Fatalf("DiffMetrics: %v", err)
	}
	if maps.FA.Base() != "sub-01_dwi.fa.mif" {
		t.Errorf("FA = %q", maps.FA.Base())
	}
	if !maps.MD.IsZero() {
		t.Error("MD computed without being selected")
	}

	tensor := filepath.Join(dir, "sub-01_dwi.diff_tensor.mif")
	if _, err := os.Stat(tensor); !os.IsNotExist(err) {
		t.Errorf("tensor scratch file %s not removed", tensor)
	}

	got := runner.byTool("tensor2metric")[0].String()
	if !strings.Contains(got, "-fa") || !strings.Contains(got, "-rd") {
		t.Errorf("metric flags = %s", got)
	}
	if strings.Contains(got, "-adc") || strings.Contains(got, "-ad ") {
		t.Errorf("unselected metric flags passed: %s", got)
	}
}
