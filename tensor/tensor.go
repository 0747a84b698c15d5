package tensor

import "github.com/born-ml/webexport/internal/tensor"

// Shape is the dimensions of a tensor.
type Shape = tensor.Shape

// DataType identifies the element type of a tensor.
type DataType = tensor.DataType

// Supported data types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
	Int32   = tensor.Int32
	Int64   = tensor.Int64
	Uint8   = tensor.Uint8
	Bool    = tensor.Bool
)

// ParseDataType maps a dtype name such as "float32" to its DataType.
func ParseDataType(s string) (DataType, error) {
	return tensor.ParseDataType(s)
}
