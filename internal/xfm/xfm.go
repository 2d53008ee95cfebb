// Package xfm implements the registration stage: it computes a linear and
// then non-linear warp from the standard-space template into native diffusion
// space and applies it to the integer atlas labels.
package xfm

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/lucasnoah/tckfactory/internal/artifact"
	"github.com/lucasnoah/tckfactory/internal/invoke"
	"github.com/lucasnoah/tckfactory/internal/recon"
	"github.com/lucasnoah/tckfactory/internal/runlog"
)

// Registrar computes standard-to-native transforms for one staged DWI.
type Registrar struct {
	dwi  artifact.Artifact
	bval artifact.Artifact
	bvec artifact.Artifact
	json artifact.Artifact // zero when absent

	template      artifact.Artifact
	templateBrain artifact.Artifact
	labels        artifact.Artifact

	inv *invoke.Invoker
	log *runlog.Logger
}

// New creates a Registrar. dwi, bval and bvec must already be staged into
// the workspace; template, templateBrain and labels are read in place.
func New(dwi, bval, bvec, json, template, templateBrain, labels artifact.Artifact, inv *invoke.Invoker, log *runlog.Logger) *Registrar {
	return &Registrar{
		dwi:           dwi,
		bval:          bval,
		bvec:          bvec,
		json:          json,
		template:      template,
		templateBrain: templateBrain,
		labels:        labels,
		inv:           inv,
		log:           log,
	}
}

// Result carries the registration stage outputs consumed downstream.
type Result struct {
	LabelsNative artifact.Artifact // atlas labels warped into native space
	NativeHead   artifact.Artifact // template non-linearly fitted to the native head
	Brain        artifact.Artifact // skull-stripped native b0
	Mask         artifact.Artifact // binary brain mask
	LinearMat    artifact.Artifact // affine template-brain -> native-brain
	WarpField    artifact.Artifact // non-linear warp field
}

// Run executes the registration sequence: brain extraction, linear
// registration, non-linear registration, label warping. Any failure aborts
// the stage; partial artifacts are left in the workspace for inspection.
func (g *Registrar) Run(ctx context.Context, dof int, fracInt float64) (Result, error) {
	mask, brain, head, err := g.MaskDWI(ctx, fracInt)
	if err != nil {
		return Result{}, err
	}

	mat, _, err := g.LinearXFM(ctx, brain, dof)
	if err != nil {
		return Result{}, err
	}

	nlOut, warp, _, err := g.NonLinearXFM(ctx, mat, head)
	if err != nil {
		return Result{}, err
	}

	labelsNative, err := g.WarpLabels(ctx, head, warp)
	if err != nil {
		return Result{}, err
	}

	return Result{
		LabelsNative: labelsNative,
		NativeHead:   nlOut,
		Brain:        brain,
		Mask:         mask,
		LinearMat:    mat,
		WarpField:    warp,
	}, nil
}

// MaskDWI runs brain extraction on the native DWI b0 and converts the
// results back to NIFTI for the FSL registration tools. The intermediate
// working-format volumes are removed once converted.
func (g *Registrar) MaskDWI(ctx context.Context, fracInt float64) (mask, brain, head artifact.Artifact, err error) {
	mask = g.dwi.WithSuffix("_brain_mask")
	brain = g.dwi.WithSuffix("_brain")
	head = g.dwi.WithSuffix("_head")

	r := recon.New(g.dwi, g.bval, g.bvec, g.json, g.inv, g.log, recon.Options{})
	mif, err := r.ConvertToMIF(ctx)
	if err != nil {
		return artifact.Artifact{}, artifact.Artifact{}, artifact.Artifact{}, err
	}

	set, err := r.CreateMask(ctx, mif, fracInt)
	if err != nil {
		return artifact.Artifact{}, artifact.Artifact{}, artifact.Artifact{}, err
	}

	for _, pair := range []struct {
		src artifact.Artifact
		dst artifact.Artifact
	}{
		{set.Mask, mask},
		{set.Brain, brain},
		{set.Head, head},
	} {
		if _, _, err := g.inv.Invoke(ctx, "mrconvert", pair.src.Path(), pair.dst.Path()); err != nil {
			return artifact.Artifact{}, artifact.Artifact{}, artifact.Artifact{}, fmt.Errorf("convert %s to NIFTI: %w", pair.src.Base(), err)
		}
		if err := os.Remove(pair.src.Path()); err != nil && !os.IsNotExist(err) {
			g.log.Warning("mask intermediate not removed: %v", err)
		}
	}

	// The conversion was only needed for masking; the diffusion stage writes
	// its own at the same path later.
	if err := os.Remove(mif.Path()); err != nil && !os.IsNotExist(err) {
		g.log.Warning("mask intermediate not removed: %v", err)
	}
	return mask, brain, head, nil
}

// LinearXFM registers the skull-stripped template to the native brain with
// the configured degrees of freedom, producing the affine matrix and the
// linearly transformed template.
func (g *Registrar) LinearXFM(ctx context.Context, dwiBrain artifact.Artifact, dof int) (artifact.Artifact, artifact.Artifact, error) {
	if dwiBrain.IsZero() {
		return artifact.Artifact{}, artifact.Artifact{}, &invoke.PreconditionError{Stage: "linear registration", Missing: "skull-stripped DWI volume"}
	}

	suffix := fmt.Sprintf(".lin_xfm_%d_dof", dof)
	mat := g.dwi.WithExt(".mat").WithSuffix(suffix)
	out := g.dwi.WithSuffix(suffix)

	_, _, err := g.inv.Invoke(ctx, "flirt",
		"-in", g.templateBrain.Path(),
		"-ref", dwiBrain.Path(),
		"-dof", strconv.Itoa(dof),
		"-omat", mat.Path(),
		"-out", out.Path())
	if err != nil {
		return artifact.Artifact{}, artifact.Artifact{}, fmt.Errorf("linear registration: %w", err)
	}
	return mat, out, nil
}

// NonLinearXFM registers the whole-head template to the native head, seeded
// with the linear transform, producing the fitted template, the warp field
// and the warp coefficients.
func (g *Registrar) NonLinearXFM(ctx context.Context, mat, dwiHead artifact.Artifact) (out, warp, coeff artifact.Artifact, err error) {
	if mat.IsZero() {
		return artifact.Artifact{}, artifact.Artifact{}, artifact.Artifact{}, &invoke.PreconditionError{Stage: "non-linear registration", Missing: "linear transformation matrix"}
	}
	if dwiHead.IsZero() {
		return artifact.Artifact{}, artifact.Artifact{}, artifact.Artifact{}, &invoke.PreconditionError{Stage: "non-linear registration", Missing: "whole-head DWI volume"}
	}

	out = g.dwi.WithSuffix(".non-lin_xfm")
	warp = g.dwi.WithSuffix(".non-lin_xfm.warp_field")
	coeff = g.dwi.WithSuffix(".non-lin_xfm.warp_field_coeff")

	_, _, err = g.inv.Invoke(ctx, "fnirt",
		"--in="+g.template.Path(),
		"--ref="+dwiHead.Path(),
		"--aff="+mat.Path(),
		"--iout="+out.Path(),
		"--fout="+warp.Path(),
		"--cout="+coeff.Path())
	if err != nil {
		return artifact.Artifact{}, artifact.Artifact{}, artifact.Artifact{}, fmt.Errorf("non-linear registration: %w", err)
	}
	return out, warp, coeff, nil
}

// WarpLabels applies the non-linear warp to the integer atlas labels.
// Interpolation is nearest-neighbor: any smoothing interpolation would
// synthesize non-integer label values at region boundaries.
func (g *Registrar) WarpLabels(ctx context.Context, dwiHead, warp artifact.Artifact) (artifact.Artifact, error) {
	if dwiHead.IsZero() {
		return artifact.Artifact{}, &invoke.PreconditionError{Stage: "label warping", Missing: "whole-head DWI volume"}
	}
	if warp.IsZero() {
		return artifact.Artifact{}, &invoke.PreconditionError{Stage: "label warping", Missing: "non-linear warp field"}
	}

	out := g.dwi.WithSuffix(".labels.non-linear")

	_, _, err := g.inv.Invoke(ctx, "applywarp",
		"--in="+g.labels.Path(),
		"--ref="+dwiHead.Path(),
		"--warp="+warp.Path(),
		"--out="+out.Path(),
		"--interp=nn",
		"--rel")
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("warp labels to native space: %w", err)
	}
	return out, nil
}
