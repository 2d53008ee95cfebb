package recon

import (
	"context"
	"fmt"
	"os"

	"github.com/lucasnoah/tckfactory/internal/artifact"
	"github.com/lucasnoah/tckfactory/internal/invoke"
)

// ConnectomeOpts configures connectome assembly.
type ConnectomeOpts struct {
	Symmetric    bool
	ZeroDiagonal bool
	Metrics      MetricSelection
}

// ConnectomeSet holds the unweighted connectome and any metric-weighted
// variants that completed. FailedMetrics names the weighting passes that
// were skipped after a tool failure.
type ConnectomeSet struct {
	Connectome    artifact.Artifact
	Weighted      map[string]artifact.Artifact // keyed "fa", "md", "ad", "rd"
	FailedMetrics []string
}

// Connectome assembles the structural connectivity matrices from the (possibly
// filtered) streamlines and the upsampled native-space labels.
//
// The unweighted matrix is mandatory; its failure fails the stage. Each
// requested metric then runs as an independent pass: sample per-streamline
// means of the metric map, assemble a weighted matrix from them, and remove
// the sample scratch file. All passes share the scratch filename, so a pass
// must finish its cleanup before the next one starts. A failed pass is logged
// and skipped without affecting the others.
func (r *Recon) Connectome(ctx context.Context, tck, labels, dwi, mask artifact.Artifact, opts ConnectomeOpts) (ConnectomeSet, error) {
	base := r.base(".txt")
	set := ConnectomeSet{
		Connectome: base.WithSuffix(".structural_connectome"),
		Weighted:   make(map[string]artifact.Artifact),
	}
	scratch := base.WithExt(".csv").WithSuffix(".metric.vertex.mean")

	var maps MetricMaps
	if opts.Metrics.Any() {
		if dwi.IsZero() {
			return ConnectomeSet{}, &invoke.PreconditionError{
				Stage:   "connectome",
				Missing: "upsampled DWI volume (required for metric weighting)",
			}
		}
		var err error
		maps, err = r.DiffMetrics(ctx, dwi, mask, opts.Metrics)
		if err != nil {
			return ConnectomeSet{}, err
		}
	}

	if err := r.assemble(ctx, tck, labels, set.Connectome, artifact.Artifact{}, opts); err != nil {
		return ConnectomeSet{}, fmt.Errorf("structural connectome: %w", err)
	}

	for _, m := range []struct {
		name string
		mp   artifact.Artifact
	}{
		{"fa", maps.FA},
		{"md", maps.MD},
		{"ad", maps.AD},
		{"rd", maps.RD},
	} {
		if m.mp.IsZero() {
			continue
		}
		out := set.Connectome.WithSuffix("." + m.name + "_weighted")
		if err := r.weightedPass(ctx, tck, labels, m.mp, scratch, out, opts); err != nil {
			r.log.Error("%s-weighted connectome skipped: %v", m.name, err)
			set.FailedMetrics = append(set.FailedMetrics, m.name)
			continue
		}
		set.Weighted[m.name] = out
	}

	return set, nil
}

// weightedPass runs one metric-weighting unit of work: sample, assemble,
// remove the shared scratch file. The scratch removal happens on every exit
// path so a later pass never inherits stale samples.
func (r *Recon) weightedPass(ctx context.Context, tck, labels, metric, scratch, out artifact.Artifact, opts ConnectomeOpts) error {
	defer func() {
		if err := os.Remove(scratch.Path()); err != nil && !os.IsNotExist(err) {
			r.log.Warning("metric scratch file not removed: %v", err)
		}
	}()

	_, _, err := r.inv.Invoke(ctx, "tcksample",
		tck.Path(), metric.Path(), scratch.Path(),
		"-stat_tck", "mean")
	if err != nil {
		return fmt.Errorf("sample streamline means: %w", err)
	}

	return r.assemble(ctx, tck, labels, out, scratch, opts)
}

// assemble invokes tck2connectome; scale is the per-streamline weight file
// and may be zero for the unweighted matrix.
func (r *Recon) assemble(ctx context.Context, tck, labels, out, scale artifact.Artifact, opts ConnectomeOpts) error {
	args := []string{tck.Path(), labels.Path(), out.Path()}
	if !scale.IsZero() {
		args = append(args, "-scale_file", scale.Path(), "-stat_edge", "mean")
	}
	if opts.Symmetric {
		args = append(args, "-symmetric")
	}
	if opts.ZeroDiagonal {
		args = append(args, "-zero_diagonal")
	}
	if r.opts.Force {
		args = append(args, "-force")
	}
	_, _, err := r.inv.Invoke(ctx, "tck2connectome", args...)
	return err
}
