package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/arraycache/pkg/errors"
)

func TestPayloadOf(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		kind Kind
		size int64
	}{
		{"bytes", []byte{1, 2, 3}, KindByte1D, 3},
		{"bytes 2d", [][]byte{{1, 2}, {3, 4}}, KindByte2D, 4},
		{"shorts", []int16{1, 2, 3}, KindShort1D, 6},
		{"shorts 2d", [][]int16{{1}, {2}}, KindShort2D, 4},
		{"ints", []int32{1, 2}, KindInt1D, 8},
		{"ints 2d", [][]int32{{1, 2, 3}}, KindInt2D, 12},
		{"floats", make([]float32, 10), KindFloat1D, 40},
		{"floats 2d", [][]float32{make([]float32, 5), make([]float32, 5)}, KindFloat2D, 40},
		{"doubles", []float64{1}, KindDouble1D, 8},
		{"doubles 2d", [][]float64{{1, 2}, {3, 4}, {5, 6}}, KindDouble2D, 48},
		{"named type", Floats{1, 2}, KindFloat1D, 8},
		{"empty vector", []float64{}, KindDouble1D, 0},
		{"ragged rows", [][]int16{{1, 2, 3}, {4}}, KindShort2D, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := PayloadOf(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, p.Kind())
			assert.Equal(t, tt.size, p.ByteSize())
		})
	}
}

func TestPayloadOf_Unsupported(t *testing.T) {
	for name, in := range map[string]interface{}{
		"string":      "hello",
		"int slice":   []int{1, 2},
		"uint16":      []uint16{1},
		"3d":          [][][]float32{},
		"nil":         nil,
		"nil slice":   []float32(nil),
		"nil payload": Doubles2D(nil),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := PayloadOf(in)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeUnsupportedPayloadShape))
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, 1, KindFloat1D.Rank())
	assert.Equal(t, 2, KindFloat2D.Rank())
	assert.Equal(t, 0, KindInvalid.Rank())
	assert.Equal(t, 8, KindDouble2D.ElemSize())
	assert.Equal(t, 2, KindShort1D.ElemSize())
	assert.Equal(t, "int[][]", KindInt2D.String())
	assert.False(t, Kind(42).Valid())
}

func TestEqualPayload(t *testing.T) {
	nan := float32(math.NaN())

	assert.True(t, EqualPayload(Floats{1, 2, nan}, Floats{1, 2, nan}))
	assert.False(t, EqualPayload(Floats{1, 2}, Floats{1, 3}))
	assert.False(t, EqualPayload(Floats{1, 2}, Floats{1, 2, 3}))
	assert.False(t, EqualPayload(Floats{1}, Doubles{1}))
	assert.True(t, EqualPayload(Ints2D{{1}, {2, 3}}, Ints2D{{1}, {2, 3}}))
	assert.False(t, EqualPayload(Ints2D{{1}, {2, 3}}, Ints2D{{1, 2}, {3}}))
	assert.True(t, EqualPayload(nil, nil))
	assert.False(t, EqualPayload(Bytes{}, nil))
}

func TestClonePayload(t *testing.T) {
	orig := Doubles2D{{1, 2}, {3, 4}}
	clone := ClonePayload(orig).(Doubles2D)

	require.True(t, EqualPayload(orig, clone))
	clone[0][0] = 99
	assert.Equal(t, 1.0, orig[0][0])
}

func TestAs(t *testing.T) {
	var p Payload = Floats2D{{1, 2}}

	f, ok := As[Floats2D](p)
	require.True(t, ok)
	assert.Len(t, f[0], 2)

	_, ok = As[Doubles2D](p)
	assert.False(t, ok)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "float[2][3]", Describe(Floats2D{make([]float32, 3), make([]float32, 3)}))
	assert.Equal(t, "byte[7]", Describe(make(Bytes, 7)))
	assert.Equal(t, "short[0][]", Describe(Shorts2D{}))
	assert.Equal(t, "<nil>", Describe(nil))
}
