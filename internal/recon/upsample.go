package recon

import (
	"context"
	"fmt"

	"github.com/lucasnoah/tckfactory/internal/artifact"
	"github.com/lucasnoah/tckfactory/internal/invoke"
)

// Upsampler regrids an image to a new isotropic voxel size. Two equivalent
// MRtrix tools exist depending on the installed version; the strategy is
// selected once by probing the search path, not per call.
type Upsampler interface {
	Name() string
	Upsample(ctx context.Context, in, out artifact.Artifact, vox float64, interp string) error
}

// SelectUpsampler probes for the preferred upsampling tool and falls back to
// the alternate. When neither resolves, a *DependencyError for the preferred
// tool is returned.
func SelectUpsampler(inv *invoke.Invoker) (Upsampler, error) {
	if inv.Available("mrresize") {
		return &resizeUpsampler{inv: inv}, nil
	}
	if inv.Available("mrgrid") {
		return &gridUpsampler{inv: inv}, nil
	}
	return nil, &invoke.DependencyError{Tool: "mrresize"}
}

// resizeUpsampler wraps the older mrresize interface.
type resizeUpsampler struct {
	inv *invoke.Invoker
}

func (u *resizeUpsampler) Name() string { return "mrresize" }

func (u *resizeUpsampler) Upsample(ctx context.Context, in, out artifact.Artifact, vox float64, interp string) error {
	args := []string{in.Path(), "-vox", fmt.Sprintf("%g", vox), out.Path()}
	if interp != "" {
		args = append(args, "-interp", interp)
	}
	_, _, err := u.inv.Invoke(ctx, "mrresize", args...)
	return err
}

// gridUpsampler wraps the mrgrid regrid interface that replaced mrresize.
type gridUpsampler struct {
	inv *invoke.Invoker
}

func (u *gridUpsampler) Name() string { return "mrgrid" }

func (u *gridUpsampler) Upsample(ctx context.Context, in, out artifact.Artifact, vox float64, interp string) error {
	args := []string{in.Path(), "regrid", out.Path(), "-voxel", fmt.Sprintf("%g", vox)}
	if interp != "" {
		args = append(args, "-interp", interp)
	}
	_, _, err := u.inv.Invoke(ctx, "mrgrid", args...)
	return err
}
