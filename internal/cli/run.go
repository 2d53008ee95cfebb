package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/tckfactory/internal/config"
	"github.com/lucasnoah/tckfactory/internal/db"
	"github.com/lucasnoah/tckfactory/internal/invoke"
	"github.com/lucasnoah/tckfactory/internal/pipeline"
	"github.com/lucasnoah/tckfactory/internal/runlog"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full connectome pipeline",
	Long: `Run stages the inputs into a temporary workspace, registers the template
and atlas into native diffusion space, processes the DWI through response
estimation, deconvolution and tractography, and writes the connectivity
matrices to the output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig(cmd)
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}

		outDir, _ := cmd.Flags().GetString("out-dir")
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}

		logPath, _ := cmd.Flags().GetString("log")
		if logPath == "" {
			logPath = filepath.Join(outDir, cfg.LogFile)
		}
		log, err := runlog.Open(logPath)
		if err != nil {
			return err
		}
		defer log.Close()
		log.SetConsole(cmd.ErrOrStderr())

		ledger, err := openLedger()
		if err != nil {
			// The ledger is bookkeeping; a broken one must not block science.
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: run ledger unavailable: %v\n", err)
		} else {
			defer ledger.Close()
		}

		runID := uuid.NewString()
		var rec invoke.Recorder
		if ledger != nil {
			if err := ledger.CreateRun(runID, outDir); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: run not recorded: %v\n", err)
			} else {
				rec = ledger.NewRunRecorder(runID)
			}
		}

		inv := invoke.NewInvoker(&invoke.ExecRunner{}, log, rec)
		if err := pipeline.Preflight(inv, cfg); err != nil {
			finishRun(ledger, runID, "failed", err.Error())
			return err
		}

		dwi, _ := cmd.Flags().GetString("dwi")
		bval, _ := cmd.Flags().GetString("bval")
		bvec, _ := cmd.Flags().GetString("bvec")
		json, _ := cmd.Flags().GetString("json")
		template, _ := cmd.Flags().GetString("template")
		templateBrain, _ := cmd.Flags().GetString("template-brain")
		labels, _ := cmd.Flags().GetString("labels")

		log.Info("run %s started", runID)
		res, err := pipeline.Run(cmd.Context(), pipeline.Opts{
			DWI:           dwi,
			Bval:          bval,
			Bvec:          bvec,
			JSON:          json,
			Template:      template,
			TemplateBrain: templateBrain,
			Labels:        labels,
			OutDir:        outDir,
			Config:        cfg,
			Log:           log,
			Invoker:       inv,
			Ledger:        ledger,
			RunID:         runID,
		})
		if err != nil {
			finishRun(ledger, runID, "failed", err.Error())
			return err
		}
		finishRun(ledger, runID, "completed", "")

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "connectome: %s\n", res.Connectome.Path())
		for name, a := range res.Weighted {
			fmt.Fprintf(w, "%s-weighted connectome: %s\n", name, a.Path())
		}
		for _, name := range res.FailedMetrics {
			fmt.Fprintf(w, "warning: %s-weighted connectome failed, see log\n", name)
		}
		fmt.Fprintf(w, "native labels: %s\n", res.LabelsNative.Path())
		return nil
	},
}

// loadRunConfig layers CLI flags over the config file over the defaults.
// Only flags the user actually set override file values.
func loadRunConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	var err error
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	if f.Changed("vox") {
		cfg.Vox, _ = f.GetFloat64("vox")
	}
	if f.Changed("erode") {
		cfg.Erode, _ = f.GetInt("erode")
	}
	if f.Changed("fa-thresh") {
		cfg.FAThresh, _ = f.GetFloat64("fa-thresh")
	}
	if f.Changed("dof") {
		cfg.DOF, _ = f.GetInt("dof")
	}
	if f.Changed("frac-int") {
		cfg.FracInt, _ = f.GetFloat64("frac-int")
	}
	if f.Changed("force") {
		cfg.Force, _ = f.GetBool("force")
	}
	if f.Changed("gzip") {
		cfg.Gzip, _ = f.GetBool("gzip")
	}
	if f.Changed("stream-lines") {
		cfg.StreamLines, _ = f.GetInt("stream-lines")
	}
	if f.Changed("cut-off") {
		cfg.Cutoff, _ = f.GetFloat64("cut-off")
	}
	if f.Changed("filter-tracks") {
		cfg.FilterTracts, _ = f.GetBool("filter-tracks")
	}
	if f.Changed("term") {
		cfg.Term, _ = f.GetInt("term")
	}
	if f.Changed("symmetric") {
		cfg.Symmetric, _ = f.GetBool("symmetric")
	}
	if f.Changed("zero-diagonal") {
		cfg.ZeroDiagonal, _ = f.GetBool("zero-diagonal")
	}
	if f.Changed("FA") {
		cfg.FA, _ = f.GetBool("FA")
	}
	if f.Changed("MD") {
		cfg.MD, _ = f.GetBool("MD")
	}
	if f.Changed("AD") {
		cfg.AD, _ = f.GetBool("AD")
	}
	if f.Changed("RD") {
		cfg.RD, _ = f.GetBool("RD")
	}
	if f.Changed("cwd") {
		cfg.UseCwd, _ = f.GetBool("cwd")
	}
	if f.Changed("no-cleanup") {
		cfg.KeepWorkspace, _ = f.GetBool("no-cleanup")
	}
	return cfg, nil
}

func openLedger() (*db.DB, error) {
	path, err := db.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func finishRun(ledger *db.DB, runID, status, detail string) {
	if ledger == nil {
		return
	}
	_ = ledger.FinishRun(runID, status, detail)
}

func init() {
	f := runCmd.Flags()

	f.String("dwi", "", "Preprocessed DWI volume (NIFTI)")
	f.String("bval", "", "b-value table (FSL format)")
	f.String("bvec", "", "b-vector table (FSL format)")
	f.String("json", "", "Optional JSON sidecar imported into the image header")
	f.String("template", "", "Whole-head standard-space template")
	f.String("template-brain", "", "Skull-stripped standard-space template")
	f.String("labels", "", "Integer-labeled atlas aligned to the template")
	f.String("out-dir", "", "Output directory for the final artifacts")
	f.String("config", "", "Path to a YAML config file")
	f.String("log", "", "Log file path (default: <out-dir>/file.log)")

	f.Float64("vox", 1.5, "Isotropic voxel size (mm) for upsampling")
	f.Int("erode", 0, "Erosion passes for response-function mask")
	f.Float64("fa-thresh", 0.20, "FA threshold for response estimation")
	f.Int("dof", 12, "Degrees of freedom for linear registration (6, 9 or 12)")
	f.Float64("frac-int", 0.5, "Fractional intensity threshold for brain extraction")
	f.Bool("force", false, "Overwrite existing outputs (-force)")
	f.Bool("gzip", false, "Compress working-format intermediates (.mif.gz)")

	f.Int("stream-lines", 100000, "Maximum streamlines to generate")
	f.Float64("cut-off", 0.07, "FOD amplitude cutoff for streamline termination")
	f.Bool("filter-tracks", false, "Filter streamlines with SIFT")
	f.Int("term", 0, "Target streamline count after filtering (0 = tool default)")

	f.Bool("symmetric", false, "Make output connectivity matrices symmetric")
	f.Bool("zero-diagonal", false, "Zero the connectome diagonal")
	f.Bool("FA", false, "Also emit an FA-weighted connectome")
	f.Bool("MD", false, "Also emit an MD-weighted connectome")
	f.Bool("AD", false, "Also emit an AD-weighted connectome")
	f.Bool("RD", false, "Also emit an RD-weighted connectome")

	f.Bool("cwd", false, "Resolve the work directory under the current directory")
	f.Bool("no-cleanup", false, "Keep the temporary workspace after a successful run")

	for _, name := range []string{"dwi", "bval", "bvec", "template", "template-brain", "labels", "out-dir"} {
		runCmd.MarkFlagRequired(name)
	}
}
