package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/san-kum/mdao/internal/config"
	"github.com/san-kum/mdao/internal/experiment"
	"github.com/san-kum/mdao/internal/problem"
	"github.com/san-kum/mdao/internal/storage"
	"github.com/san-kum/mdao/internal/viz"
)

var (
	dataDir string
	verbose bool
	theme   string
	logger  *zap.Logger

	seed       int64
	outPath    string
	ofNames    []string
	wrtNames   []string
	maxPlots   int
	plotHeight int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mdao",
		Short: "multidisciplinary analysis and design lab",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := zap.NewProductionConfig()
			if verbose {
				cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = cfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			viz.SetTheme(theme)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".mdao", "data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", "default", "report colours ("+strings.Join(viz.ThemeNames(), ", ")+")")

	runCmd := &cobra.Command{
		Use:   "run [config.yaml | model | model/preset]",
		Short: "set up and run a problem with its driver",
		Args:  cobra.ExactArgs(1),
		RunE:  runProblem,
	}
	runCmd.Flags().Int64Var(&seed, "seed", 0, "override the driver seed")

	checkCmd := &cobra.Command{
		Use:   "check [config.yaml | model | model/preset]",
		Short: "report dangling params, unconnected unknowns and cycles",
		Args:  cobra.ExactArgs(1),
		RunE:  checkProblem,
	}

	partialsCmd := &cobra.Command{
		Use:   "partials [config.yaml | model | model/preset]",
		Short: "compare analytic partials against finite differences",
		Args:  cobra.ExactArgs(1),
		RunE:  checkPartials,
	}

	gradientCmd := &cobra.Command{
		Use:   "gradient [config.yaml | model | model/preset]",
		Short: "finite difference gradient of the converged model",
		Args:  cobra.ExactArgs(1),
		RunE:  calcGradient,
	}
	gradientCmd.Flags().StringSliceVar(&ofNames, "of", nil, "unknowns to differentiate")
	gradientCmd.Flags().StringSliceVar(&wrtNames, "wrt", nil, "independent variables")
	_ = gradientCmd.MarkFlagRequired("of")
	_ = gradientCmd.MarkFlagRequired("wrt")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show run metadata, metrics and column trends",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id] [column...]",
		Short: "plot recorded columns against case number",
		Args:  cobra.MinimumNArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&maxPlots, "max", 6, "columns to plot when none are named")
	plotCmd.Flags().IntVar(&plotHeight, "height", 10, "plot height")

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			models := config.ListModels()
			if len(args) == 1 {
				models = args
			}
			for _, m := range models {
				presets := config.ListPresets(m)
				if len(presets) == 0 {
					fmt.Printf("no presets for model: %s\n", m)
					continue
				}
				fmt.Printf("presets for %s:\n", viz.Title.Render(m))
				for _, p := range presets {
					fmt.Printf("  %s/%s\n", m, p)
				}
			}
			return nil
		},
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list registered models and component types",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := experiment.NewRegistry()
			fmt.Println(viz.HeaderStyle.Render("models"))
			for _, m := range r.ListModels() {
				fmt.Printf("  %s\n", m)
			}
			fmt.Println(viz.HeaderStyle.Render("component types"))
			for _, c := range r.ListComponents() {
				fmt.Printf("  %s\n", c)
			}
			return nil
		},
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return storage.New(dataDir).ExportJSON(args[0], outPath)
		},
	}
	exportJSONCmd.Flags().StringVarP(&outPath, "output", "o", "-", "output file, - for stdout")

	rootCmd.AddCommand(runCmd, checkCmd, partialsCmd, gradientCmd, listCmd, showCmd, plotCmd, presetsCmd, modelsCmd, exportJSONCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig accepts a YAML file, a registered model name or model/preset.
func loadConfig(arg string) (*config.Config, error) {
	if _, err := os.Stat(arg); err == nil {
		return config.Load(arg)
	}
	if model, name, ok := strings.Cut(arg, "/"); ok {
		cfg := config.GetPreset(model, name)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", arg, config.ListPresets(model))
		}
		return cfg, nil
	}
	cfg := config.DefaultConfig()
	cfg.Model = arg
	return cfg, nil
}

// setupOnly builds and sets up a problem without recorders.
func setupOnly(arg string) (*experiment.Experiment, *problem.Problem, error) {
	cfg, err := loadConfig(arg)
	if err != nil {
		return nil, nil, err
	}
	cfg.Recorders = nil
	exp := experiment.New(cfg, experiment.WithLogger(logger))
	if err := exp.Setup(); err != nil {
		return nil, nil, err
	}
	return exp, exp.Problem(), nil
}

func runProblem(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		cfg.Driver.Seed = seed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	exp := experiment.New(cfg,
		experiment.WithLogger(logger),
		experiment.WithStore(storage.New(dataDir)),
	)
	if err := exp.Setup(); err != nil {
		return err
	}

	fmt.Printf("running %s...\n", viz.Title.Render(cfg.Model))
	start := time.Now()
	runErr := exp.Run(ctx)
	if err := exp.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	fmt.Printf("completed in %v\n", time.Since(start))
	if id := exp.RunID(); id != "" {
		fmt.Println(viz.KV("run id", id))
	}
	if res := exp.Result(); res != nil {
		fmt.Println(viz.KV("cases", res.Cases))
		fmt.Println(viz.KV("failed", res.Failed))
		if res.Best != nil {
			fmt.Println(viz.KV("best "+cfg.Driver.Objective, res.BestObjective))
			for _, name := range sortedKeys(res.Best) {
				fmt.Printf("  %s\n", viz.KV(name, res.Best[name]))
			}
		}
	}

	fmt.Println("\nmetrics:")
	m := exp.Metrics()
	for _, name := range sortedKeys(m) {
		fmt.Printf("  %s\n", viz.KV(name, m[name]))
	}
	return nil
}

func checkProblem(cmd *cobra.Command, args []string) error {
	_, p, err := setupOnly(args[0])
	if err != nil {
		return err
	}
	n, err := p.CheckSetup(os.Stdout)
	if err != nil {
		return err
	}
	if n > 0 {
		fmt.Println(viz.StatusWarn.Render(fmt.Sprintf("%d issue(s)", n)))
	}
	return nil
}

func checkPartials(cmd *cobra.Command, args []string) error {
	_, p, err := setupOnly(args[0])
	if err != nil {
		return err
	}
	if err := p.RunModel(); err != nil {
		return err
	}
	results, err := p.CheckPartials()
	if err != nil {
		return err
	}
	if err := problem.WritePartials(os.Stdout, results); err != nil {
		return err
	}

	worst := 0.0
	for _, r := range results {
		for _, res := range r.Results {
			if res.Rel > worst {
				worst = res.Rel
			}
		}
	}
	fmt.Printf("\nworst relative error: %s\n", viz.ErrorLevel(worst, 1e-4))
	return nil
}

func calcGradient(cmd *cobra.Command, args []string) error {
	exp, p, err := setupOnly(args[0])
	if err != nil {
		return err
	}
	if err := p.RunModel(); err != nil {
		return err
	}
	jac, err := p.CalcGradient(ofNames, wrtNames, exp.FD())
	if err != nil {
		return err
	}
	return jac.Dump(os.Stdout)
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tDRIVER\tCASES\tFAILED")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Driver,
			run.Cases,
			run.Failed,
		)
	}

	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	h, err := st.LoadHistory(args[0])
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintln(&b, viz.KV("run", meta.ID))
	fmt.Fprintln(&b, viz.KV("model", meta.Model))
	fmt.Fprintln(&b, viz.KV("driver", meta.Driver))
	fmt.Fprintln(&b, viz.KV("time", meta.Timestamp.Format("2006-01-02 15:04:05")))
	fmt.Fprint(&b, viz.KV("cases", fmt.Sprintf("%d (%d failed)", meta.Cases, meta.Failed)))
	fmt.Println(viz.Panel.Render(b.String()))

	if len(meta.Options) > 0 {
		fmt.Println(viz.HeaderStyle.Render("options"))
		for _, k := range sortedKeys(meta.Options) {
			fmt.Printf("  %s\n", viz.KV(k, meta.Options[k]))
		}
	}

	fmt.Println(viz.HeaderStyle.Render("metrics"))
	for _, k := range sortedKeys(meta.Metrics) {
		fmt.Printf("  %s\n", viz.KV(k, meta.Metrics[k]))
	}

	fmt.Println(viz.HeaderStyle.Render("columns"))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, c := range h.Columns {
		vals, err := h.Column(c)
		if err != nil {
			return err
		}
		last := 0.0
		if len(vals) > 0 {
			last = vals[len(vals)-1]
		}
		fmt.Fprintf(w, "  %s\t%.6g\t%s\n", c, last, viz.SparklineChart(vals, 40))
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	h, err := st.LoadHistory(runID)
	if err != nil {
		return err
	}
	if len(h.Rows) == 0 {
		return fmt.Errorf("no data to plot")
	}

	columns := args[1:]
	if len(columns) == 0 {
		columns = h.Columns
		if len(columns) > maxPlots {
			columns = columns[:maxPlots]
		}
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("cases: %d\n\n", len(h.Rows))

	for _, c := range columns {
		data, err := h.Column(c)
		if err != nil {
			return err
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(plotHeight),
			asciigraph.Width(80),
			asciigraph.Caption(c+" vs case"),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
