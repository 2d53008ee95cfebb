package recon

import (
	"context"
	"fmt"
	"os"

	"github.com/lucasnoah/tckfactory/internal/artifact"
)

// MetricSelection toggles the four diffusion-tensor maps independently.
type MetricSelection struct {
	FA bool
	MD bool
	AD bool
	RD bool
}

// Any reports whether at least one metric is selected.
func (s MetricSelection) Any() bool {
	return s.FA || s.MD || s.AD || s.RD
}

// MetricMaps holds the computed tensor-metric volumes. Unselected metrics
// stay zero.
type MetricMaps struct {
	FA artifact.Artifact
	MD artifact.Artifact
	AD artifact.Artifact
	RD artifact.Artifact
}

// DiffMetrics fits a diffusion tensor on the upsampled DWI and extracts the
// selected metric maps. The fitted tensor is a scratch file and is removed
// before returning.
func (r *Recon) DiffMetrics(ctx context.Context, dwi, mask artifact.Artifact, sel MetricSelection) (MetricMaps, error) {
	ext := dwi.Ext()
	base := r.base(ext)

	tensor := base.WithSuffix(".diff_tensor")
	maps := MetricMaps{}

	args := []string{dwi.Path(), tensor.Path()}
	if !mask.IsZero() {
		args = append(args, "-mask", mask.Path())
	}
	if r.opts.Force {
		args = append(args, "-force")
	}
	if _, _, err := r.inv.Invoke(ctx, "dwi2tensor", args...); err != nil {
		return MetricMaps{}, fmt.Errorf("tensor fit: %w", err)
	}

	metricArgs := []string{tensor.Path()}
	if sel.MD {
		maps.MD = base.WithSuffix(".md")
		metricArgs = append(metricArgs, "-adc", maps.MD.Path())
	}
	if sel.FA {
		maps.FA = base.WithSuffix(".fa")
		metricArgs = append(metricArgs, "-fa", maps.FA.Path())
	}
	if sel.AD {
		maps.AD = base.WithSuffix(".ad")
		metricArgs = append(metricArgs, "-ad", maps.AD.Path())
	}
	if sel.RD {
		maps.RD = base.WithSuffix(".rd")
		metricArgs = append(metricArgs, "-rd", maps.RD.Path())
	}

	if _, _, err := r.inv.Invoke(ctx, "tensor2metric", metricArgs...); err != nil {
		return MetricMaps{}, fmt.Errorf("tensor metrics: %w", err)
	}

	// The tensor volume is only an intermediate for tensor2metric.
	if err := os.Remove(tensor.Path()); err != nil && !os.IsNotExist(err) {
		r.log.Warning("tensor scratch file not removed: %v", err)
	}
	return maps, nil
}
