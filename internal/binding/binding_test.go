package binding

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/config"
	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/registry"
)

var testTarget = Target{Host: "http://analytics:8081", BaseURL: "/analytics/uves", Prefix: "tungsten"}

func gaugeDef(name, module, path string) config.Metric {
	return config.Metric{
		Name:            name,
		Type:            "Gauge",
		Kind:            config.KindGauge,
		UVEType:         "analytics-node",
		UVEModule:       module,
		JSONPath:        path,
		AppendFieldName: true,
	}
}

func newBinding(t *testing.T, def config.Metric, instance string) (*Binding, *registry.Registry, *prometheus.Registry) {
	t.Helper()
	promReg := prometheus.NewRegistry()
	reg := registry.New(promReg)
	b, err := New(def, instance, testTarget, reg, nil)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	return b, reg, promReg
}

func gaugeValue(t *testing.T, reg *registry.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	m, ok := reg.Get(name)
	if !ok {
		t.Fatalf("metric %q not created; have %v", name, reg.Names())
	}
	v, err := m.Value(labels)
	if err != nil {
		t.Fatalf("Value(%q): %v", name, err)
	}
	return v
}

func TestUpdate_AnalyticsNodeScenario(t *testing.T) {
	b, reg, _ := newBinding(t, gaugeDef("cpu_usage", "AnalyticsApiInfo", "$.CpuLoadInfo.cpu_share"), "node1")

	doc := []byte(`{"AnalyticsApiInfo":{"CpuLoadInfo":{"cpu_share":42.5}}}`)
	if err := b.Update(doc); err != nil {
		t.Fatalf("Update() unexpected error: %v", err)
	}

	got := gaugeValue(t, reg, "tungsten_cpu_usage_CpuLoadInfo.cpu_share", prometheus.Labels{"analytics_node": "node1"})
	if got != 42.5 {
		t.Errorf("value: got %v, want 42.5", got)
	}
}

func TestUpdate_AppendFieldNameFansOut(t *testing.T) {
	b, reg, _ := newBinding(t, gaugeDef("cpu", "AnalyticsApiInfo", "$.CpuLoadInfo.*"), "node1")

	doc := []byte(`{"AnalyticsApiInfo":{"CpuLoadInfo":{"cpu_share":42.5,"one_min_avg":0.5,"num_cpu":8}}}`)
	if err := b.Update(doc); err != nil {
		t.Fatalf("Update() unexpected error: %v", err)
	}

	want := []string{
		"tungsten_cpu_CpuLoadInfo.cpu_share",
		"tungsten_cpu_CpuLoadInfo.num_cpu",
		"tungsten_cpu_CpuLoadInfo.one_min_avg",
	}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("names: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("names[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
	if v := gaugeValue(t, reg, "tungsten_cpu_CpuLoadInfo.num_cpu", prometheus.Labels{"analytics_node": "node1"}); v != 8 {
		t.Errorf("num_cpu: got %v", v)
	}
}

func TestUpdate_LabelsFromPath(t *testing.T) {
	tests := []struct {
		name  string
		index int
	}{
		{"positive index", 1},
		{"negative index", -2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			def := config.Metric{
				Name:           "in_pkts",
				Type:           "Gauge",
				Kind:           config.KindGauge,
				UVEType:        "vrouter",
				UVEModule:      "VrouterStatsAgent",
				JSONPath:       "$.phy_if_stats.*.in_pkts",
				LabelsFromPath: map[string]int{"interface": tc.index},
			}
			b, reg, _ := newBinding(t, def, "compute-1")

			doc := []byte(`{"VrouterStatsAgent":{"phy_if_stats":{"eth0":{"in_pkts":10},"eth1":{"in_pkts":20}}}}`)
			if err := b.Update(doc); err != nil {
				t.Fatalf("Update() unexpected error: %v", err)
			}

			if names := reg.Names(); len(names) != 1 || names[0] != "tungsten_in_pkts" {
				t.Fatalf("names: got %v", names)
			}
			for iface, want := range map[string]float64{"eth0": 10, "eth1": 20} {
				got := gaugeValue(t, reg, "tungsten_in_pkts", prometheus.Labels{"vrouter": "compute-1", "interface": iface})
				if got != want {
					t.Errorf("%s: got %v, want %v", iface, got, want)
				}
			}
		})
	}
}

func TestUpdate_LabelIndexOutOfRange(t *testing.T) {
	def := gaugeDef("cpu_usage", "AnalyticsApiInfo", "$.CpuLoadInfo.cpu_share")
	def.LabelsFromPath = map[string]int{"field": 5}
	b, _, _ := newBinding(t, def, "node1")

	err := b.Update([]byte(`{"AnalyticsApiInfo":{"CpuLoadInfo":{"cpu_share":1}}}`))
	if !errors.Is(err, ErrLabelIndex) {
		t.Fatalf("expected ErrLabelIndex, got %v", err)
	}
}

func TestUpdate_EnumRejectsUndeclaredState(t *testing.T) {
	def := config.Metric{
		Name:      "state",
		Type:      "Enum",
		Kind:      config.KindEnum,
		Options:   config.Options{States: []string{"Functional", "Non-Functional"}},
		UVEType:   "vrouter",
		UVEModule: "NodeStatus",
		JSONPath:  "$.process_status[0].state",
	}
	b, reg, _ := newBinding(t, def, "compute-1")

	if err := b.Update([]byte(`{"NodeStatus":{"process_status":[{"state":"Functional"}]}}`)); err != nil {
		t.Fatalf("Update() unexpected error: %v", err)
	}
	m, ok := reg.Get("tungsten_state")
	if !ok {
		t.Fatalf("enum not created; have %v", reg.Names())
	}
	if s, _ := m.State(prometheus.Labels{"vrouter": "compute-1"}); s != "Functional" {
		t.Errorf("state: got %q, want Functional", s)
	}

	err := b.Update([]byte(`{"NodeStatus":{"process_status":[{"state":"Initializing"}]}}`))
	if !errors.Is(err, registry.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if s, _ := m.State(prometheus.Labels{"vrouter": "compute-1"}); s != "Functional" {
		t.Errorf("state after rejected write: got %q, want Functional", s)
	}
}

func TestUpdate_LabelConflictIsFatal(t *testing.T) {
	promReg := prometheus.NewRegistry()
	reg := registry.New(promReg)

	plain := gaugeDef("cpu", "AnalyticsApiInfo", "$.CpuLoadInfo.cpu_share")
	plain.AppendFieldName = false
	labelled := plain
	labelled.LabelsFromPath = map[string]int{"field": 0}

	b1, _ := New(plain, "node1", testTarget, reg, nil)
	b2, _ := New(labelled, "node1", testTarget, reg, nil)

	doc := []byte(`{"AnalyticsApiInfo":{"CpuLoadInfo":{"cpu_share":1}}}`)
	if err := b1.Update(doc); err != nil {
		t.Fatalf("first Update() unexpected error: %v", err)
	}
	if err := b2.Update(doc); !errors.Is(err, registry.ErrLabelConflict) {
		t.Fatalf("expected ErrLabelConflict, got %v", err)
	}
}

func TestUpdate_SkipsWhatTheDocumentLacks(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing module", `{"Other":{"CpuLoadInfo":{"cpu_share":1}}}`},
		{"null module", `{"AnalyticsApiInfo":null}`},
		{"missing field", `{"AnalyticsApiInfo":{"CpuLoadInfo":{}}}`},
		{"non-numeric value", `{"AnalyticsApiInfo":{"CpuLoadInfo":{"cpu_share":"n/a"}}}`},
		{"malformed", `{"AnalyticsApiInfo":`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, _, promReg := newBinding(t, gaugeDef("cpu_usage", "AnalyticsApiInfo", "$.CpuLoadInfo.cpu_share"), "node1")
			if err := b.Update([]byte(tc.doc)); err != nil {
				t.Fatalf("Update() should not fail, got %v", err)
			}
			n, err := testutil.GatherAndCount(promReg)
			if err != nil {
				t.Fatal(err)
			}
			if n != 0 {
				t.Errorf("series written: got %d, want 0", n)
			}
		})
	}
}

func TestClose_RemovesInstanceSeries(t *testing.T) {
	promReg := prometheus.NewRegistry()
	reg := registry.New(promReg)
	def := gaugeDef("cpu_usage", "AnalyticsApiInfo", "$.CpuLoadInfo.cpu_share")
	doc := []byte(`{"AnalyticsApiInfo":{"CpuLoadInfo":{"cpu_share":1}}}`)

	node1, _ := New(def, "node1", testTarget, reg, nil)
	node2, _ := New(def, "node2", testTarget, reg, nil)
	for _, b := range []*Binding{node1, node2} {
		if err := b.Update(doc); err != nil {
			t.Fatalf("Update(%s): %v", b.Instance(), err)
		}
	}

	name := "tungsten_cpu_usage_CpuLoadInfo.cpu_share"
	if n, _ := testutil.GatherAndCount(promReg, name); n != 2 {
		t.Fatalf("series before close: got %d, want 2", n)
	}

	node2.Close()
	if n, _ := testutil.GatherAndCount(promReg, name); n != 1 {
		t.Errorf("series after close: got %d, want 1", n)
	}
	if reg.Len() != 1 {
		t.Errorf("metric should stay registered, registry has %d", reg.Len())
	}

	// A fetch finishing after Close must not bring the series back.
	if err := node2.Update(doc); err != nil {
		t.Fatal(err)
	}
	if n, _ := testutil.GatherAndCount(promReg, name); n != 1 {
		t.Errorf("series after late update: got %d, want 1", n)
	}
}

func TestBaseLabels(t *testing.T) {
	def := gaugeDef("x", "M", "$.a")
	def.UVEType = "virtual-network"
	def.LabelsFromPath = map[string]int{"field": 0}
	b, _, _ := newBinding(t, def, "default-domain:admin:net1")

	got := b.BaseLabels()
	if len(got) != 2 || got["virtual_network"] != "default-domain:admin:net1" {
		t.Errorf("base labels: got %v", got)
	}
	if v, ok := got["field"]; !ok || v != "" {
		t.Errorf("placeholder for field: got %q, %v", v, ok)
	}
}

func TestInstanceURL(t *testing.T) {
	reg := registry.New(prometheus.NewRegistry())
	mk := func(module, path string) *Binding {
		t.Helper()
		b, err := New(gaugeDef("m", module, path), "node/1", testTarget, reg, nil)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}

	tests := []struct {
		name     string
		bindings []*Binding
		want     string
	}{
		{
			name:     "single field",
			bindings: []*Binding{mk("AnalyticsApiInfo", "$.CpuLoadInfo.cpu_share")},
			want:     "http://analytics:8081/analytics/uves/analytics-node/node%2F1?flat&cfilt=AnalyticsApiInfo:CpuLoadInfo",
		},
		{
			name: "union sorted and deduplicated",
			bindings: []*Binding{
				mk("NodeStatus", "$.process_info[*].state"),
				mk("AnalyticsApiInfo", "$.CpuLoadInfo.cpu_share"),
				mk("AnalyticsApiInfo", "$.CpuLoadInfo.num_cpu"),
				mk("AnalyticsApiInfo", "$.rx,tx.pkts"),
			},
			want: "http://analytics:8081/analytics/uves/analytics-node/node%2F1?flat&cfilt=" +
				"AnalyticsApiInfo:CpuLoadInfo,AnalyticsApiInfo:rx,AnalyticsApiInfo:tx,NodeStatus:process_info",
		},
		{
			name: "wildcard needs the whole module",
			bindings: []*Binding{
				mk("AnalyticsApiInfo", "$.CpuLoadInfo.cpu_share"),
				mk("AnalyticsApiInfo", "$..cpu_share"),
			},
			want: "http://analytics:8081/analytics/uves/analytics-node/node%2F1?flat&cfilt=AnalyticsApiInfo",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := InstanceURL(testTarget, "analytics-node", "node/1", tc.bindings)
			if got != tc.want {
				t.Errorf("got  %s\nwant %s", got, tc.want)
			}
		})
	}
}
