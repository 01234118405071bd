package pathexpr

import (
	"testing"

	"github.com/buger/jsonparser"
	"github.com/stretchr/testify/require"
)

const vrouterDoc = `{
  "CpuLoadInfo": {"cpu_share": 42.5, "num_cpu": 8, "sys_mem_info": {"total": 1024, "used": 512}},
  "status": "Functional",
  "up": true,
  "queues": [{"name": "q0", "depth": 3}, {"name": "q1", "depth": 7}],
  "drop_stats": {"ds_discard": 1, "ds_pull": 0},
  "nested": {"drop_stats": {"ds_discard": 5}},
  "a.b": {"c": 1},
  "rx\u005fbytes": 10
}`

func paths(ms []Match) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.FullPath())
	}
	return out
}

func TestFind(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want []string
	}{
		{"field chain", "$.CpuLoadInfo.cpu_share", []string{"CpuLoadInfo.cpu_share"}},
		{"without root", "CpuLoadInfo.num_cpu", []string{"CpuLoadInfo.num_cpu"}},
		{"wildcard object", "$.drop_stats.*", []string{"drop_stats.ds_discard", "drop_stats.ds_pull"}},
		{"wildcard array", "$.queues[*].depth", []string{"queues.[0].depth", "queues.[1].depth"}},
		{"dot wildcard array", "$.queues.*.name", []string{"queues.[0].name", "queues.[1].name"}},
		{"index", "$.queues[1].depth", []string{"queues.[1].depth"}},
		{"negative index", "$.queues[-2].name", []string{"queues.[0].name"}},
		{"index out of range", "$.queues[5].name", nil},
		{"union", "$.CpuLoadInfo.cpu_share,num_cpu", []string{"CpuLoadInfo.cpu_share", "CpuLoadInfo.num_cpu"}},
		{"descendant", "$..ds_discard", []string{"drop_stats.ds_discard", "nested.drop_stats.ds_discard"}},
		{"quoted", "$['a.b'].c", []string{"a.b.c"}},
		{"dot quoted", `$."a.b".c`, []string{"a.b.c"}},
		{"missing", "$.nope.cpu_share", nil},
		{"field on scalar", "$.status.x", nil},
		{"dot index", "$.queues.[1].depth", []string{"queues.[1].depth"}},
		{"dot wildcard bracket", "$.queues.[*].name", []string{"queues.[0].name", "queues.[1].name"}},
		{"escaped key", "$.rx_bytes", []string{"rx_bytes"}},
		{"root", "$", []string{""}},
	}
	doc := []byte(vrouterDoc)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := Compile(tc.expr)
			require.NoError(t, err)
			got, err := e.Find(doc)
			require.NoError(t, err)
			if tc.want == nil {
				require.Empty(t, got)
				return
			}
			require.Equal(t, tc.want, paths(got))
		})
	}
}

func TestFind_Values(t *testing.T) {
	doc := []byte(vrouterDoc)

	ms, err := MustCompile("$.CpuLoadInfo.cpu_share").Find(doc)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	v, err := ms[0].Float()
	require.NoError(t, err)
	require.Equal(t, 42.5, v)
	require.Equal(t, []string{"CpuLoadInfo", "cpu_share"}, ms[0].Path)

	ms, err = MustCompile("$.up").Find(doc)
	require.NoError(t, err)
	v, err = ms[0].Float()
	require.NoError(t, err)
	require.Equal(t, 1.0, v)

	ms, err = MustCompile("$.status").Find(doc)
	require.NoError(t, err)
	require.Equal(t, jsonparser.String, ms[0].Type)
	require.Equal(t, "Functional", ms[0].String())
	_, err = ms[0].Float()
	require.ErrorIs(t, err, ErrNotNumeric)

	ms, err = MustCompile("$.CpuLoadInfo.sys_mem_info").Find(doc)
	require.NoError(t, err)
	_, err = ms[0].Float()
	require.ErrorIs(t, err, ErrNotNumeric)
}

func TestMatch_NumericString(t *testing.T) {
	ms, err := MustCompile("$.v").Find([]byte(`{"v": " 12.5 "}`))
	require.NoError(t, err)
	v, err := ms[0].Float()
	require.NoError(t, err)
	require.Equal(t, 12.5, v)
}

func TestFind_EscapedKeysInPaths(t *testing.T) {
	ms, err := MustCompile("$.*").Find([]byte(`{"a\u002eb": 1, "t\u00e9": 2}`))
	require.NoError(t, err)
	require.Equal(t, []string{"a.b", "té"}, paths(ms))
}

func TestCompile_Errors(t *testing.T) {
	for _, expr := range []string{"", "$.", "$.a[", "$.a[x]", "$.'a", "$a", "$.a..", "$.a,"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Compile(expr)
			require.Error(t, err)
		})
	}
}

func TestTopLevelFields(t *testing.T) {
	tests := []struct {
		expr string
		want []string
	}{
		{"$.CpuLoadInfo.cpu_share", []string{"CpuLoadInfo"}},
		{"$.a,b.c", []string{"a", "b"}},
		{"$.a.[0]", []string{"a"}},
		{"Foo", []string{"Foo"}},
		{"$['x y'].z", []string{"x y"}},
		{"$.*.cpu_share", nil},
		{"$..cpu_share", nil},
		{"$[0]", nil},
		{"$", nil},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			require.Equal(t, tc.want, MustCompile(tc.expr).TopLevelFields())
		})
	}
}

func TestFind_MalformedDocument(t *testing.T) {
	_, err := MustCompile("$.a").Find([]byte(``))
	require.Error(t, err)
}
