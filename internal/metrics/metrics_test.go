package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/mdao/internal/recorder"
)

func cases() []*recorder.Case {
	return []*recorder.Case{
		{Success: true, Unknowns: []recorder.Var{{Name: "obj", Value: 3.0}}, Resids: []recorder.Var{{Name: "obj", Value: 0.0}}},
		{Success: true, Unknowns: []recorder.Var{{Name: "obj", Value: -1.5}}, Resids: []recorder.Var{{Name: "y", Value: []float64{3, 4}}}},
		{Success: false, Unknowns: []recorder.Var{{Name: "obj", Value: -9.0}}},
	}
}

func TestCollectorValues(t *testing.T) {
	c := NewCollector(Defaults("obj")...)
	if err := c.Startup(recorder.Metadata{}); err != nil {
		t.Fatal(err)
	}
	for _, cs := range cases() {
		if err := c.Record(cs); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name     string
		expected float64
	}{
		{"cases", 3},
		{"success_rate", 2.0 / 3.0},
		{"max_resid_norm", 5},
		{"obj_min", -1.5},
	}
	values := c.Values()
	for _, tt := range tests {
		if got := values[tt.name]; math.Abs(got-tt.expected) > 1e-12 {
			t.Errorf("%s: expected %f, got %f", tt.name, tt.expected, got)
		}
	}
}

func TestMetricReset(t *testing.T) {
	ms := Defaults("obj")
	for _, m := range ms {
		for _, cs := range cases() {
			m.Observe(cs)
		}
		m.Reset()
	}

	if v := ms[0].Value(); v != 0 {
		t.Errorf("expected 0 cases after reset, got %f", v)
	}
	if v := ms[1].Value(); v != 1 {
		t.Errorf("expected success rate 1 after reset, got %f", v)
	}
	if v := ms[3].Value(); !math.IsInf(v, 1) {
		t.Errorf("expected +Inf objective after reset, got %f", v)
	}
}

func TestDefaultsWithoutObjective(t *testing.T) {
	if n := len(Defaults("")); n != 3 {
		t.Errorf("expected 3 metrics, got %d", n)
	}
}
