// Package tensor provides the raw tensor containers used by the loader and
// converter packages.
//
// # Overview
//
// A RawTensor is a shape, a data type and a little-endian byte buffer. It
// carries weights between model readers and the web exporter; it performs
// no arithmetic.
//
// # Basic Usage
//
//	import "github.com/born-ml/webexport/tensor"
//
//	w, err := tensor.FromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	kernel, err := w.Transpose2D() // [3, 2]
//
// # Supported Data Types
//
//   - float32, float64 (floating-point)
//   - int32, int64 (signed integers)
//   - uint8 (unsigned integers)
//   - bool (stored as one byte)
//
// Half-precision values are widened to float32 on load; see
// Float16ToFloat32 and BFloat16ToFloat32.
package tensor
