package config

import "fmt"

// Validate checks parameter ranges before the pipeline starts. The returned
// error names every violation so a bad config is fixed in one pass.
func Validate(cfg Config) error {
	var problems []string

	if cfg.Vox <= 0 {
		problems = append(problems, fmt.Sprintf("vox must be positive, got %g", cfg.Vox))
	}
	if cfg.Erode < 0 {
		problems = append(problems, fmt.Sprintf("erode must be non-negative, got %d", cfg.Erode))
	}
	if cfg.FAThresh <= 0 || cfg.FAThresh >= 1 {
		problems = append(problems, fmt.Sprintf("fa_thresh must be in (0,1), got %g", cfg.FAThresh))
	}
	switch cfg.DOF {
	case 6, 9, 12:
	default:
		problems = append(problems, fmt.Sprintf("dof must be 6, 9 or 12, got %d", cfg.DOF))
	}
	if cfg.FracInt <= 0 || cfg.FracInt > 1 {
		problems = append(problems, fmt.Sprintf("frac_int must be in (0,1], got %g", cfg.FracInt))
	}
	if cfg.StreamLines <= 0 {
		problems = append(problems, fmt.Sprintf("stream_lines must be positive, got %d", cfg.StreamLines))
	}
	if cfg.Cutoff <= 0 {
		problems = append(problems, fmt.Sprintf("cutoff must be positive, got %g", cfg.Cutoff))
	}
	if cfg.Term < 0 {
		problems = append(problems, fmt.Sprintf("term must be non-negative, got %d", cfg.Term))
	}
	if cfg.Term > 0 && !cfg.FilterTracts {
		problems = append(problems, "term is set but filter_tracts is disabled")
	}

	if len(problems) > 0 {
		msg := "invalid configuration:"
		for _, p := range problems {
			msg += "\n  - " + p
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
