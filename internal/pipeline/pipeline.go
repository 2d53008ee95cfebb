// Package pipeline composes the registration and diffusion-processing stages
// into one run: stage inputs into a scoped workspace, register the template
// and atlas into native space, process the DWI through to connectivity
// matrices, copy the finals out, tear the workspace down. Stage failures
// propagate unchanged and leave the workspace in place for inspection.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/tckfactory/internal/artifact"
	"github.com/lucasnoah/tckfactory/internal/config"
	"github.com/lucasnoah/tckfactory/internal/connectome"
	"github.com/lucasnoah/tckfactory/internal/db"
	"github.com/lucasnoah/tckfactory/internal/invoke"
	"github.com/lucasnoah/tckfactory/internal/recon"
	"github.com/lucasnoah/tckfactory/internal/runlog"
	"github.com/lucasnoah/tckfactory/internal/workspace"
	"github.com/lucasnoah/tckfactory/internal/xfm"
)

// Opts carries everything one pipeline run needs. Invoker and Log are
// injected so tests can run the whole pipeline against a mock runner.
type Opts struct {
	DWI           string
	Bval          string
	Bvec          string
	JSON          string // optional sidecar; empty = none
	Template      string
	TemplateBrain string
	Labels        string
	OutDir        string

	Config  config.Config
	Log     *runlog.Logger
	Invoker *invoke.Invoker
	Ledger  *db.DB // optional run ledger
	RunID   string
}

// Result names the final artifacts a successful run left in the output
// directory.
type Result struct {
	Connectome    artifact.Artifact
	Weighted      map[string]artifact.Artifact
	FailedMetrics []string
	LabelsNative  artifact.Artifact
	NativeHead    artifact.Artifact
	Workspace     string // empty when torn down
}

// Tools the pipeline always invokes. The upsampler and the optional
// filtering/metric tools are probed separately.
var requiredTools = []string{
	"mrconvert",
	"dwi2response",
	"dwiextract",
	"fslmaths",
	"bet",
	"ss3t_csd_beta1",
	"mtnormalise",
	"tckgen",
	"tck2connectome",
	"flirt",
	"fnirt",
	"applywarp",
}

// Preflight verifies that every executable this configuration will invoke
// resolves on the search path, reporting all missing tools at once.
func Preflight(inv *invoke.Invoker, cfg config.Config) error {
	tools := append([]string{}, requiredTools...)
	if cfg.FilterTracts {
		tools = append(tools, "tcksift")
	}
	if cfg.AnyMetric() {
		tools = append(tools, "dwi2tensor", "tensor2metric", "tcksample")
	}

	var missing []string
	for _, t := range tools {
		if err := inv.CheckTool(t); err != nil {
			missing = append(missing, t)
		}
	}
	// Upsampling needs one of two equivalent tools, not a fixed name.
	if !inv.Available("mrresize") && !inv.Available("mrgrid") {
		missing = append(missing, "mrresize (or mrgrid)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing external tools: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Run executes the full pipeline. On success the workspace is removed unless
// KeepWorkspace is set; on failure it is always preserved and its path is
// logged.
func Run(ctx context.Context, opts Opts) (Result, error) {
	cfg := opts.Config
	log := opts.Log

	if err := checkInputs(opts); err != nil {
		return Result{}, err
	}

	ws, err := workspace.New(filepath.Join(opts.OutDir, "work.tmp"), cfg.UseCwd)
	if err != nil {
		return Result{}, err
	}
	if err := ws.Materialize(); err != nil {
		return Result{}, err
	}
	log.Info("workspace: %s", ws.Root())
	logEvent(opts, "workspace_created", ws.Root())

	res, err := run(ctx, opts, ws)
	if err != nil {
		log.Error("pipeline failed: %v", err)
		log.Warning("workspace preserved for inspection: %s", ws.Root())
		logEvent(opts, "pipeline_failed", err.Error())
		res.Workspace = ws.Root()
		return res, err
	}

	if cfg.KeepWorkspace {
		log.Info("workspace kept: %s", ws.Root())
		res.Workspace = ws.Root()
		return res, nil
	}
	if err := ws.Teardown(true); err != nil {
		log.Warning("workspace not removed: %v", err)
		res.Workspace = ws.Root()
	}
	return res, nil
}

func run(ctx context.Context, opts Opts, ws *workspace.Workspace) (Result, error) {
	cfg := opts.Config
	log := opts.Log
	inv := opts.Invoker

	// Stage inputs. The template, template brain and atlas are read in place;
	// only the subject files move into the workspace.
	dwi, err := ws.StageInput(opts.DWI)
	if err != nil {
		return Result{}, err
	}
	bval, err := ws.StageInput(opts.Bval)
	if err != nil {
		return Result{}, err
	}
	bvec, err := ws.StageInput(opts.Bvec)
	if err != nil {
		return Result{}, err
	}
	var json artifact.Artifact
	if opts.JSON != "" {
		if json, err = ws.StageInput(opts.JSON); err != nil {
			return Result{}, err
		}
	}
	logEvent(opts, "inputs_staged", dwi.Base())

	// The upsampling tool is probed once and bound for the whole run, before
	// any stage spends compute.
	upsampler, err := recon.SelectUpsampler(inv)
	if err != nil {
		return Result{}, err
	}
	log.Info("upsampling with %s", upsampler.Name())

	// Registration: template and atlas into native diffusion space.
	reg := xfm.New(dwi, bval, bvec, json,
		artifact.New(opts.Template),
		artifact.New(opts.TemplateBrain),
		artifact.New(opts.Labels),
		inv, log)
	regRes, err := reg.Run(ctx, cfg.DOF, cfg.FracInt)
	if err != nil {
		return Result{}, fmt.Errorf("registration: %w", err)
	}
	logEvent(opts, "stage_complete", "registration")

	r := recon.New(dwi, bval, bvec, json, inv, log, recon.Options{
		Gzip:      cfg.Gzip,
		Force:     cfg.Force,
		Upsampler: upsampler,
	})

	mif, err := r.ConvertToMIF(ctx)
	if err != nil {
		return Result{}, err
	}
	responses, err := r.EstimateResponse(ctx, mif, cfg.Erode, cfg.FAThresh)
	if err != nil {
		return Result{}, err
	}
	dwiUp, err := r.Upsample(ctx, mif, cfg.Vox, "cubic")
	if err != nil {
		return Result{}, err
	}
	labelsUp, err := r.Upsample(ctx, regRes.LabelsNative, cfg.Vox, "nearest")
	if err != nil {
		return Result{}, err
	}
	maskSet, err := r.CreateMask(ctx, dwiUp, cfg.FracInt)
	if err != nil {
		return Result{}, err
	}
	tissues, err := r.Deconvolve(ctx, dwiUp, maskSet.Mask, responses)
	if err != nil {
		return Result{}, err
	}
	normed, err := r.BiasCorrect(ctx, tissues, maskSet.Mask)
	if err != nil {
		return Result{}, err
	}
	logEvent(opts, "stage_complete", "diffusion_processing")

	// QC artifact only; its failure must not cost the run.
	dec, err := r.DECMap(ctx, normed.WMFod, maskSet.Mask)
	if err != nil {
		log.Warning("DEC map skipped: %v", err)
		dec = artifact.Artifact{}
	}

	tck, err := r.Tractography(ctx, normed.WMFod, maskSet.Mask, cfg.StreamLines, cfg.Cutoff)
	if err != nil {
		return Result{}, err
	}
	if cfg.FilterTracts {
		if tck, err = r.FilterTracks(ctx, tck, normed.WMFod, maskSet.Mask, cfg.Term); err != nil {
			return Result{}, err
		}
	}
	logEvent(opts, "stage_complete", "tractography")

	connSet, err := r.Connectome(ctx, tck, labelsUp, dwiUp, maskSet.Mask, recon.ConnectomeOpts{
		Symmetric:    cfg.Symmetric,
		ZeroDiagonal: cfg.ZeroDiagonal,
		Metrics: recon.MetricSelection{
			FA: cfg.FA, MD: cfg.MD, AD: cfg.AD, RD: cfg.RD,
		},
	})
	if err != nil {
		return Result{}, err
	}
	logEvent(opts, "stage_complete", "connectome")

	res := Result{
		Weighted:      make(map[string]artifact.Artifact),
		FailedMetrics: connSet.FailedMetrics,
	}

	finals := []struct {
		src artifact.Artifact
		dst *artifact.Artifact
	}{
		{connSet.Connectome, &res.Connectome},
		{regRes.LabelsNative, &res.LabelsNative},
		{regRes.NativeHead, &res.NativeHead},
	}
	for _, f := range finals {
		out, err := ws.CopyOut(f.src, opts.OutDir)
		if err != nil {
			return Result{}, err
		}
		*f.dst = out
	}
	for name, a := range connSet.Weighted {
		out, err := ws.CopyOut(a, opts.OutDir)
		if err != nil {
			return Result{}, err
		}
		res.Weighted[name] = out
	}
	if !dec.IsZero() {
		if _, err := ws.CopyOut(dec, opts.OutDir); err != nil {
			log.Warning("DEC map not copied out: %v", err)
		}
	}
	logEvent(opts, "outputs_copied", opts.OutDir)

	summarize(log, res.Connectome)
	return res, nil
}

// summarize reads the emitted connectome back in and logs its shape. Purely
// informational; a parse failure is logged and ignored.
func summarize(log *runlog.Logger, conn artifact.Artifact) {
	m, err := connectome.Load(conn.Path())
	if err != nil {
		log.Warning("connectome summary unavailable: %v", err)
		return
	}
	s, err := connectome.Summarize(m)
	if err != nil {
		log.Warning("connectome summary unavailable: %v", err)
		return
	}
	log.Info("connectome: %d nodes, %d edges, density %.4f, total weight %.2f",
		s.Nodes, s.Edges, s.Density, s.TotalWeight)
}

func checkInputs(opts Opts) error {
	required := []struct {
		name string
		path string
	}{
		{"DWI", opts.DWI},
		{"bval", opts.Bval},
		{"bvec", opts.Bvec},
		{"template", opts.Template},
		{"template brain", opts.TemplateBrain},
		{"labels", opts.Labels},
	}
	var missing []string
	for _, in := range required {
		if in.path == "" || !artifact.New(in.path).Exists() {
			missing = append(missing, fmt.Sprintf("%s (%s)", in.name, in.path))
		}
	}
	if opts.JSON != "" && !artifact.New(opts.JSON).Exists() {
		missing = append(missing, fmt.Sprintf("JSON sidecar (%s)", opts.JSON))
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing input files: %s", strings.Join(missing, "; "))
	}
	return nil
}

// logEvent records a lifecycle event to the ledger when one is attached.
// Ledger failures never fail a run.
func logEvent(opts Opts, event, detail string) {
	if opts.Ledger == nil || opts.RunID == "" {
		return
	}
	if err := opts.Ledger.LogRunEvent(opts.RunID, event, detail); err != nil {
		opts.Log.Warning("run event not recorded: %v", err)
	}
}
