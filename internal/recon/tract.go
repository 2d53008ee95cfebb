package recon

import (
	"context"
	"fmt"

	"github.com/lucasnoah/tckfactory/internal/artifact"
)

// Tractography generates up to streamLines whole-brain streamlines from the
// bias-corrected white-matter FOD, seeded throughout the mask and terminated
// when the FOD amplitude drops below cutoff. The streamline budget is
// embedded in the output name.
func (r *Recon) Tractography(ctx context.Context, wmFod, mask artifact.Artifact, streamLines int, cutoff float64) (artifact.Artifact, error) {
	tck := r.base(".tck").WithSuffix(fmt.Sprintf(".%d.streamlines", streamLines))

	_, _, err := r.inv.Invoke(ctx, "tckgen",
		wmFod.Path(), tck.Path(),
		"-seed_image", mask.Path(),
		"-select", fmt.Sprintf("%d", streamLines),
		"-cutoff", fmt.Sprintf("%g", cutoff))
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("tractography: %w", err)
	}
	return tck, nil
}

// FilterTracks reduces the streamline set with spherical-deconvolution
// informed filtering. term is the target streamline count; when zero no
// explicit target is passed and the tool decides.
func (r *Recon) FilterTracks(ctx context.Context, tck, wmFod, mask artifact.Artifact, term int) (artifact.Artifact, error) {
	var filt artifact.Artifact
	if term > 0 {
		filt = r.base(".tck").WithSuffix(fmt.Sprintf(".%d.streamlines.filtered", term))
	} else {
		filt = r.base(".tck").WithSuffix(".streamlines.filtered")
	}

	args := []string{tck.Path(), wmFod.Path(), filt.Path()}
	if !mask.IsZero() {
		args = append(args, "-proc_mask", mask.Path())
	}
	if term > 0 {
		args = append(args, "-term_number", fmt.Sprintf("%d", term))
	}

	if _, _, err := r.inv.Invoke(ctx, "tcksift", args...); err != nil {
		return artifact.Artifact{}, fmt.Errorf("track filtering: %w", err)
	}
	return filt, nil
}
