package conversion

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestPipelineApply(t *testing.T) {
	tests := []struct {
		name      string
		pipeline  Pipeline
		value     float64
		kind      Kind
		precision int
		expected  float64
	}{
		{"identity", nil, 215, Float, 1, 215},
		{"div10", Pipeline{Div10}, 215, Float, 1, 21.5},
		{"mul10 to int", Pipeline{Mul10}, 21.54, Int, 0, 215},
		{"div100", Pipeline{Div100}, 4512, Float, 2, 45.12},
		{"c to f", Pipeline{CelsiusToFahrenheit}, 20, Float, 1, 68},
		{"f to c", Pipeline{FahrenheitToCelsius}, 68, Float, 1, 20},
		{"div10 then c to f", Pipeline{Div10, CelsiusToFahrenheit}, 250, Float, 1, 77},
		{"intermediate rounded to two decimals", Pipeline{Div100, Mul10}, 1234, Float, 3, 123.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.pipeline.Apply(tt.value, tt.kind, tt.precision)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestPipelineApplyUnknownFunc(t *testing.T) {
	_, err := Pipeline{Func(9)}.Apply(1, Float, 1)
	assert.ErrorIs(t, err, ErrUnknownFunc)
	assert.ErrorIs(t, Pipeline{Div10, Func(-1)}.Validate(), ErrUnknownFunc)
}

func TestRoundTrip(t *testing.T) {
	values := []float64{0, 1, 250, 21.5, -12.3, 45}
	for f := Mul10; f <= FahrenheitToCelsius; f++ {
		for _, x := range values {
			read, err := Pipeline{f}.Apply(x, Float, 6)
			require.NoError(t, err)
			back, err := Pipeline{f}.Inverse().Apply(read, Float, 6)
			require.NoError(t, err)
			assert.InDelta(t, x, back, 1e-3, "func %d value %v", f, x)
		}
	}

	raw, err := Pipeline{Mul10}.Apply(250, Float, 2)
	require.NoError(t, err)
	back, err := Pipeline{Div10}.Apply(raw, Int, 0)
	require.NoError(t, err)
	assert.Equal(t, 250.0, back)
}

func TestInverseReversesOrder(t *testing.T) {
	p := Pipeline{Div10, CelsiusToFahrenheit}
	assert.Equal(t, Pipeline{FahrenheitToCelsius, Mul10}, p.Inverse())

	read, err := p.Apply(215, Float, 2)
	require.NoError(t, err)
	raw, err := p.Inverse().Apply(read, Int, 0)
	require.NoError(t, err)
	assert.Equal(t, 215.0, raw)
}

func TestConvert(t *testing.T) {
	v, ok := Convert("215", Pipeline{Div10}, Float, 1)
	assert.True(t, ok)
	assert.Equal(t, 21.5, v)

	_, ok = Convert("abc", Pipeline{Div10}, Float, 1)
	assert.False(t, ok)

	_, ok = Convert(nil, nil, Float, 1)
	assert.False(t, ok)

	_, ok = Convert(3, Pipeline{Func(42)}, Float, 1)
	assert.False(t, ok)
}

func TestPipelineDecoding(t *testing.T) {
	var doc struct {
		A Pipeline `json:"a" yaml:"a"`
		B Pipeline `json:"b" yaml:"b"`
		C Pipeline `json:"c" yaml:"c"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"a": 1, "b": [1, 4]}`), &doc))
	assert.Equal(t, Pipeline{Div10}, doc.A)
	assert.Equal(t, Pipeline{Div10, CelsiusToFahrenheit}, doc.B)
	assert.Nil(t, doc.C)

	doc.A, doc.B = nil, nil
	require.NoError(t, yaml.Unmarshal([]byte("a: 3\nb: [0, 5]\n"), &doc))
	assert.Equal(t, Pipeline{Div100}, doc.A)
	assert.Equal(t, Pipeline{Mul10, FahrenheitToCelsius}, doc.B)
}

func TestGroupAddresses(t *testing.T) {
	tests := []struct {
		name     string
		addrs    []int
		expected []Run
	}{
		{"empty", nil, nil},
		{"single", []int{7}, []Run{{7, 1}}},
		{"example", []int{2, 3, 4, 12, 13, 17}, []Run{{2, 3}, {12, 2}, {17, 1}}},
		{"all consecutive", []int{0, 1, 2, 3}, []Run{{0, 4}}},
		{"large gaps", []int{1, 1000, 60000}, []Run{{1, 1}, {1000, 1}, {60000, 1}}},
		{"unsorted with duplicates", []int{5, 3, 4, 4, 9}, []Run{{3, 3}, {9, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GroupAddresses(tt.addrs))
		})
	}
}

func TestGroupAddressesCoverage(t *testing.T) {
	addrs := []int{0, 2, 3, 4, 8, 9, 10, 11, 30, 31, 33}
	runs := GroupAddresses(addrs)

	seen := map[int]int{}
	total := 0
	for i, r := range runs {
		total += r.Count
		for a := r.Start; a < r.Start+r.Count; a++ {
			seen[a]++
		}
		if i > 0 {
			prev := runs[i-1]
			assert.Greater(t, r.Start, prev.Start+prev.Count, "runs %d and %d could merge", i-1, i)
		}
	}
	assert.Equal(t, len(addrs), total)
	for _, a := range addrs {
		assert.Equal(t, 1, seen[a], "address %d", a)
	}
}

func TestSplitRuns(t *testing.T) {
	runs := []Run{{0, 5}, {10, 2}}
	assert.Equal(t, []Run{{0, 2}, {2, 2}, {4, 1}, {10, 2}}, SplitRuns(runs, 2))
	assert.Equal(t, runs, SplitRuns(runs, 0))
}
