package config

// Config holds every tunable pipeline parameter. It is read from an optional
// YAML file, overridden by CLI flags, validated once, and never mutated after
// that — each stage receives it by value.
type Config struct {
	// Pipeline parameters.
	Vox      float64 `yaml:"vox"`       // isotropic voxel size (mm) for upsampling
	Erode    int     `yaml:"erode"`     // erosion passes for the whole-brain mask
	FAThresh float64 `yaml:"fa_thresh"` // FA threshold for crude WM vs GM-CSF separation
	DOF      int     `yaml:"dof"`       // degrees of freedom for linear registration
	FracInt  float64 `yaml:"frac_int"`  // fractional intensity threshold for brain extraction
	Force    bool    `yaml:"force"`     // pass -force to MRtrix tools
	Gzip     bool    `yaml:"gzip"`      // emit .mif.gz intermediates

	// Tractography parameters.
	StreamLines  int     `yaml:"stream_lines"`  // maximum streamlines to generate
	Cutoff       float64 `yaml:"cutoff"`        // FOD amplitude termination threshold
	FilterTracts bool    `yaml:"filter_tracts"` // run SIFT filtering after tckgen
	Term         int     `yaml:"term"`          // target streamline count after filtering; 0 = tool default

	// Connectome parameters.
	Symmetric    bool `yaml:"symmetric"`
	ZeroDiagonal bool `yaml:"zero_diagonal"`
	FA           bool `yaml:"fa"`
	MD           bool `yaml:"md"`
	AD           bool `yaml:"ad"`
	RD           bool `yaml:"rd"`

	// Run behavior.
	UseCwd        bool   `yaml:"use_cwd"`        // resolve the work dir under the current directory
	KeepWorkspace bool   `yaml:"keep_workspace"` // skip workspace teardown on success
	LogFile       string `yaml:"log"`            // log filename, relative to the output directory
}

// AnyMetric reports whether at least one metric-weighted connectome is
// requested.
func (c Config) AnyMetric() bool {
	return c.FA || c.MD || c.AD || c.RD
}
