// Package vector converts embeddings to and from their binary storage form
// and provides cosine distance over float32 vectors.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/lxw15337674/memox-sub000/core"
)

// BytesPerFloat is the width of one encoded element.
const BytesPerFloat = 4

// Encode converts a vector into consecutive little-endian IEEE 754 float32
// values. There is no header or length prefix.
func Encode(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, core.NewError(core.CodeInvalidInput, "vector: cannot encode empty vector", nil)
	}
	b := make([]byte, len(vec)*BytesPerFloat)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*BytesPerFloat:], math.Float32bits(v))
	}
	return b, nil
}

// Decode converts a buffer produced by Encode back into a vector. The length
// is inferred from the buffer size.
func Decode(b []byte) ([]float32, error) {
	if len(b)%BytesPerFloat != 0 {
		return nil, core.NewError(core.CodeConversion,
			fmt.Sprintf("vector: invalid embedding length %d (not multiple of %d)", len(b), BytesPerFloat), nil)
	}
	n := len(b) / BytesPerFloat
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*BytesPerFloat:]))
	}
	return vec, nil
}

// DecodeDim decodes b and reports whether it holds exactly dim elements.
func DecodeDim(b []byte, dim int) ([]float32, bool, error) {
	vec, err := Decode(b)
	if err != nil {
		return nil, false, err
	}
	return vec, len(vec) == dim, nil
}
