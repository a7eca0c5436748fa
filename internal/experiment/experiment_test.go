package experiment

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/san-kum/mdao/internal/config"
	"github.com/san-kum/mdao/internal/deriv"
	"github.com/san-kum/mdao/internal/storage"
	"github.com/san-kum/mdao/internal/system"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	models := r.ListModels()
	if len(models) != 4 {
		t.Errorf("expected 4 models, got %v", models)
	}
	if _, err := r.GetModel("nonexistent"); err == nil {
		t.Error("expected error for unknown model")
	}
	if _, err := r.GetComponent(config.SubsystemConfig{Name: "c", Type: "nonexistent"}); err == nil {
		t.Error("expected error for unknown component type")
	}
	if _, err := r.GetComponent(config.SubsystemConfig{Name: "p", Type: "indep"}); err == nil {
		t.Error("expected error for indep without vars")
	}

	c, err := r.GetComponent(config.SubsystemConfig{
		Name: "p",
		Type: "indep",
		Vars: []config.VarConfig{{Name: "x", Value: 1}, {Name: "z", Value: []any{5, 2}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(system.AsComponent(c).UnknownMetas()); n != 2 {
		t.Errorf("expected 2 outputs, got %d", n)
	}
}

func run(t *testing.T, cfg *config.Config, opts ...Option) *Experiment {
	t.Helper()
	e := New(cfg, opts...)
	if err := e.Setup(); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	return e
}

func TestParaboloidGrid(t *testing.T) {
	st := storage.New(t.TempDir())
	e := run(t, config.GetPreset("paraboloid", "grid"), WithStore(st))

	res := e.Result()
	if res == nil {
		t.Fatal("expected a driver result")
	}
	if res.Cases != 121 {
		t.Errorf("expected 121 cases, got %d", res.Cases)
	}
	if res.BestObjective != -27 {
		t.Errorf("expected best objective -27, got %f", res.BestObjective)
	}

	meta, err := st.Load(e.RunID())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Cases != 121 {
		t.Errorf("expected 121 stored cases, got %d", meta.Cases)
	}
	if meta.Metrics["comp.f_xy_min"] != -27 {
		t.Errorf("expected stored objective min -27, got %f", meta.Metrics["comp.f_xy_min"])
	}
	if meta.Options["num_steps"] != "11" {
		t.Errorf("expected num_steps option 11, got %q", meta.Options["num_steps"])
	}

	col, err := st.Column(e.RunID(), "comp.f_xy")
	if err != nil {
		t.Fatal(err)
	}
	if len(col) != 121 {
		t.Errorf("expected 121 values, got %d", len(col))
	}
}

func TestStoreSkippedWithoutStore(t *testing.T) {
	e := run(t, config.GetPreset("paraboloid", "single"))
	if e.RunID() != "" {
		t.Errorf("expected no run id, got %s", e.RunID())
	}
	if e.Metrics()["cases"] != 1 {
		t.Errorf("expected 1 case, got %f", e.Metrics()["cases"])
	}
}

func TestConfigTree(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Model = "tree"
	cfg.Recorders = nil
	cfg.Root = config.GroupConfig{
		Subsystems: []config.SubsystemConfig{
			{Name: "p", Type: "indep", Vars: []config.VarConfig{{Name: "x", Value: 1.0}}},
			{Name: "g", Type: "group", Group: &config.GroupConfig{
				Solver: config.SolverConfig{Type: "run_once"},
				Subsystems: []config.SubsystemConfig{
					{Name: "c", Type: "exec", Exprs: []string{"y = 2*x"}, FD: &deriv.Options{Form: deriv.Central}},
				},
			}},
		},
		Connections: []config.ConnectionConfig{{Source: "p.x", Targets: []string{"g.c.x"}}},
	}
	cfg.Set = []config.VarConfig{{Name: "p.x", Value: 4}}

	e := run(t, cfg)
	y, err := e.Problem().Float("g.c.y")
	if err != nil {
		t.Fatal(err)
	}
	if y != 8 {
		t.Errorf("expected g.c.y 8, got %f", y)
	}

	sub, ok := e.Problem().Root.Subsystem("g.c")
	if !ok {
		t.Fatal("expected subsystem g.c")
	}
	opts := system.AsComponent(sub).FDOptions()
	if opts.Form != deriv.Central || opts.Step != cfg.FD.Step {
		t.Errorf("expected central form with the global step, got %+v", opts)
	}
}

func TestSellarDump(t *testing.T) {
	var buf bytes.Buffer
	e := run(t, config.GetPreset("sellar", "mda"), WithOutput(&buf))

	obj, err := e.Problem().Float("obj")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(obj-28.58830817) > 1e-4 {
		t.Errorf("expected obj 28.5883, got %f", obj)
	}

	out := buf.String()
	if !strings.Contains(out, "Iteration Coordinate: rank0:Driver/1/root/1") {
		t.Errorf("missing coordinate in dump:\n%s", out)
	}
	if strings.Contains(out, "d1.z") {
		t.Errorf("excluded param in dump:\n%s", out)
	}
}

func TestModelFDOptions(t *testing.T) {
	e := New(config.GetPreset("converge_diverge", "single"))
	p, err := e.Build()
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range p.Root.Components() {
		if form := system.AsComponent(c).FDOptions().Form; form != deriv.Central {
			t.Errorf("%s: expected central form, got %s", c.Pathname(), form)
		}
	}
}

func TestRunBeforeBuild(t *testing.T) {
	e := New(config.DefaultConfig())
	if err := e.Run(context.Background()); err != ErrNotBuilt {
		t.Errorf("expected ErrNotBuilt, got %v", err)
	}
}

func TestBuildUnknownModel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Model = "nonexistent"
	if _, err := New(cfg).Build(); err == nil {
		t.Error("expected error for unknown model")
	}
}
