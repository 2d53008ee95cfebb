// Package recon wraps the MRtrix/FSL executables that take a converted DWI
// volume through response estimation, upsampling, masking, deconvolution,
// bias correction, tractography and connectome assembly. Each method derives
// its output names from the staged DWI artifact and invokes exactly one or a
// few external tools; nothing here computes image data itself.
package recon

import (
	"context"
	"fmt"
	"strings"

	"github.com/lucasnoah/tckfactory/internal/artifact"
	"github.com/lucasnoah/tckfactory/internal/invoke"
	"github.com/lucasnoah/tckfactory/internal/runlog"
	"github.com/lucasnoah/tckfactory/internal/workspace"
)

// Options configures a Recon.
type Options struct {
	Gzip      bool      // emit .mif.gz intermediates
	Force     bool      // pass -force to MRtrix tools that accept it
	Upsampler Upsampler // bound upsampling strategy; required only for Upsample
}

// Recon drives diffusion processing for one staged DWI volume.
type Recon struct {
	dwi  artifact.Artifact
	bval artifact.Artifact
	bvec artifact.Artifact
	json artifact.Artifact // zero when no sidecar was provided

	inv  *invoke.Invoker
	log  *runlog.Logger
	opts Options
}

// New creates a Recon for the staged DWI and its gradient tables. json may
// be the zero Artifact.
func New(dwi, bval, bvec, json artifact.Artifact, inv *invoke.Invoker, log *runlog.Logger, opts Options) *Recon {
	return &Recon{dwi: dwi, bval: bval, bvec: bvec, json: json, inv: inv, log: log, opts: opts}
}

// mifExt returns the working-format extension for this run.
func (r *Recon) mifExt() string {
	if r.opts.Gzip {
		return ".mif.gz"
	}
	return ".mif"
}

// base returns the DWI artifact rebased onto ext, the root all derived names
// hang off.
func (r *Recon) base(ext string) artifact.Artifact {
	return r.dwi.WithExt(ext)
}

// ConvertToMIF converts the staged NIFTI DWI plus gradient tables (and the
// JSON sidecar when present) into the MRtrix working format.
func (r *Recon) ConvertToMIF(ctx context.Context) (artifact.Artifact, error) {
	out := r.base(r.mifExt())

	args := []string{}
	if r.opts.Force {
		args = append(args, "-force")
	}
	if !r.json.IsZero() {
		args = append(args, "-json_import", r.json.Path())
	}
	args = append(args, "-fslgrad", r.bvec.Path(), r.bval.Path(), r.dwi.Path(), out.Path())

	if _, _, err := r.inv.Invoke(ctx, "mrconvert", args...); err != nil {
		return artifact.Artifact{}, fmt.Errorf("convert DWI to mif: %w", err)
	}
	return out, nil
}

// Responses holds the three per-tissue response functions.
type Responses struct {
	WM  artifact.Artifact
	GM  artifact.Artifact
	CSF artifact.Artifact
}

// EstimateResponse estimates the WM/GM/CSF response functions from the
// converted DWI using the dhollander algorithm.
func (r *Recon) EstimateResponse(ctx context.Context, mif artifact.Artifact, erode int, faThresh float64) (Responses, error) {
	base := r.base(".txt")
	res := Responses{
		WM:  base.WithSuffix("_response_wm"),
		GM:  base.WithSuffix("_response_gm"),
		CSF: base.WithSuffix("_response_csf"),
	}

	args := []string{}
	if r.opts.Force {
		args = append(args, "-force")
	}
	args = append(args, "dhollander", mif.Path())
	if erode > 0 {
		args = append(args, "-erode", fmt.Sprintf("%d", erode))
	}
	if faThresh > 0 {
		args = append(args, "-fa", fmt.Sprintf("%g", faThresh))
	}
	args = append(args, res.WM.Path(), res.GM.Path(), res.CSF.Path())

	if _, _, err := r.inv.Invoke(ctx, "dwi2response", args...); err != nil {
		return Responses{}, fmt.Errorf("estimate response functions: %w", err)
	}
	return res, nil
}

// Upsample regrids an image to the given isotropic voxel size using the
// strategy bound at pipeline start. Label volumes must pass interp "nearest"
// so integer label identity survives; the DWI uses smooth interpolation.
// The output is always in the MRtrix working format.
func (r *Recon) Upsample(ctx context.Context, in artifact.Artifact, vox float64, interp string) (artifact.Artifact, error) {
	if r.opts.Upsampler == nil {
		return artifact.Artifact{}, fmt.Errorf("upsample %s: no upsampling strategy bound", in.Base())
	}

	outExt := ".mif"
	if strings.HasSuffix(in.Ext(), ".gz") {
		outExt = ".mif.gz"
	}
	out := in.WithExt(outExt).WithSuffix("_upsampled")

	if err := r.opts.Upsampler.Upsample(ctx, in, out, vox, interp); err != nil {
		return artifact.Artifact{}, fmt.Errorf("upsample %s: %w", in.Base(), err)
	}
	return out, nil
}

// MaskSet holds the binary mask, the skull-stripped brain and the whole-head
// mean-b0 volume, all on the grid of the input.
type MaskSet struct {
	Mask  artifact.Artifact
	Brain artifact.Artifact
	Head  artifact.Artifact
}

// CreateMask extracts and averages the b-zero volumes, runs brain extraction
// on the mean, and converts the results back into the working format. The
// scratch files live in a nested temporary directory that is removed before
// returning.
func (r *Recon) CreateMask(ctx context.Context, mif artifact.Artifact, fracInt float64) (MaskSet, error) {
	ext := mif.Ext()
	set := MaskSet{
		Mask:  mif.WithSuffix("_brain_mask"),
		Brain: mif.WithSuffix("_brain"),
		Head:  mif.WithSuffix("_head"),
	}

	scratch, err := workspace.New(mif.Dir(), false)
	if err != nil {
		return MaskSet{}, fmt.Errorf("create mask scratch dir: %w", err)
	}
	if err := scratch.Materialize(); err != nil {
		return MaskSet{}, fmt.Errorf("create mask scratch dir: %w", err)
	}

	tmpB0s := scratch.Join("tmp_B0s.nii.gz")
	tmpB0 := scratch.Join("tmp_B0.nii.gz")
	tmpBrain := scratch.Join("tmp_B0_brain.nii.gz")
	tmpMask := scratch.Join("tmp_B0_brain_mask.nii.gz")

	// Extract b-zero volumes.
	if _, _, err := r.inv.Invoke(ctx, "dwiextract", "-bzero", mif.Path(), tmpB0s.Path()); err != nil {
		return MaskSet{}, fmt.Errorf("extract b0 volumes: %w", err)
	}

	// Average them into a single volume.
	if _, _, err := r.inv.Invoke(ctx, "fslmaths", tmpB0s.Path(), "-Tmean", tmpB0.Path()); err != nil {
		return MaskSet{}, fmt.Errorf("average b0 volumes: %w", err)
	}

	// Brain extraction; -m also writes the binary mask.
	if _, _, err := r.inv.Invoke(ctx, "bet", tmpB0.Path(), tmpBrain.Path(), "-R", "-m", "-f", fmt.Sprintf("%g", fracInt)); err != nil {
		return MaskSet{}, fmt.Errorf("brain extraction: %w", err)
	}

	// Convert the three results into the working format.
	for _, pair := range []struct {
		src artifact.Artifact
		dst artifact.Artifact
	}{
		{tmpMask, set.Mask},
		{tmpBrain, set.Brain},
		{tmpB0, set.Head},
	} {
		if _, _, err := r.inv.Invoke(ctx, "mrconvert", pair.src.Path(), pair.dst.Path()); err != nil {
			return MaskSet{}, fmt.Errorf("convert %s to %s: %w", pair.src.Base(), ext, err)
		}
	}

	if err := scratch.Teardown(false); err != nil {
		r.log.Warning("mask scratch dir not removed: %v", err)
	}
	return set, nil
}

// TissueSet holds the three tissue-compartment volumes produced by
// deconvolution (or their bias-corrected counterparts).
type TissueSet struct {
	WMFod  artifact.Artifact
	GMTis  artifact.Artifact
	CSFTis artifact.Artifact
}

// Deconvolve runs single-shell three-tissue constrained spherical
// deconvolution over the upsampled DWI inside the mask.
func (r *Recon) Deconvolve(ctx context.Context, mif, mask artifact.Artifact, res Responses) (TissueSet, error) {
	set := TissueSet{
		WMFod:  mif.WithSuffix("_wm_fod"),
		GMTis:  mif.WithSuffix("_gm_tis"),
		CSFTis: mif.WithSuffix("_csf_tis"),
	}

	_, _, err := r.inv.Invoke(ctx, "ss3t_csd_beta1",
		mif.Path(),
		res.WM.Path(), set.WMFod.Path(),
		res.GM.Path(), set.GMTis.Path(),
		res.CSF.Path(), set.CSFTis.Path(),
		"-mask", mask.Path())
	if err != nil {
		return TissueSet{}, fmt.Errorf("three-tissue deconvolution: %w", err)
	}
	return set, nil
}

// BiasCorrect performs joint bias-field correction of the three tissue
// volumes, constrained to the mask.
func (r *Recon) BiasCorrect(ctx context.Context, tis TissueSet, mask artifact.Artifact) (TissueSet, error) {
	norm := TissueSet{
		WMFod:  tis.WMFod.WithSuffix("_norm"),
		GMTis:  tis.GMTis.WithSuffix("_norm"),
		CSFTis: tis.CSFTis.WithSuffix("_norm"),
	}

	_, _, err := r.inv.Invoke(ctx, "mtnormalise",
		tis.WMFod.Path(), norm.WMFod.Path(),
		tis.GMTis.Path(), norm.GMTis.Path(),
		tis.CSFTis.Path(), norm.CSFTis.Path(),
		"-mask", mask.Path())
	if err != nil {
		return TissueSet{}, fmt.Errorf("bias-field correction: %w", err)
	}
	return norm, nil
}

// DECMap computes a directionally-encoded color map from the white-matter
// FOD for visual QC.
func (r *Recon) DECMap(ctx context.Context, wmFod, mask artifact.Artifact) (artifact.Artifact, error) {
	dec := r.base(r.mifExt()).WithSuffix("_dec")
	if _, _, err := r.inv.Invoke(ctx, "fod2dec", wmFod.Path(), dec.Path(), "-mask", mask.Path()); err != nil {
		return artifact.Artifact{}, fmt.Errorf("compute DEC map: %w", err)
	}
	return dec, nil
}
