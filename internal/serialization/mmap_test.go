//go:build unix || windows

package serialization

import (
	"errors"
	"path/filepath"
	"testing"
)

// TestMmapReaderMatchesFileReader verifies that both readers agree for each version.
func TestMmapReaderMatchesFileReader(t *testing.T) {
	for _, version := range []int{FormatVersion, FormatVersionV2} {
		path := filepath.Join(t.TempDir(), "model.born")
		writeTestFile(t, path, version, map[string]string{"name": "autoencoder"})

		reader, err := NewMmapReader(path)
		if err != nil {
			t.Fatalf("v%d: NewMmapReader failed: %v", version, err)
		}

		if reader.Metadata()["name"] != "autoencoder" {
			t.Errorf("Metadata not preserved: %v", reader.Metadata())
		}

		stateDict, err := reader.ReadStateDict()
		if err != nil {
			t.Fatalf("ReadStateDict failed: %v", err)
		}
		assertFloat32s(t, stateDict["0.weight"], []float32{1, 2, 3, 4, 5, 6})
		assertFloat32s(t, stateDict["0.bias"], []float32{0.5, -0.5})

		if err := reader.VerifyChecksum(); err != nil {
			t.Errorf("VerifyChecksum failed: %v", err)
		}

		if err := reader.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		// Loaded tensors are copies and stay valid after unmapping.
		assertFloat32s(t, stateDict["0.bias"], []float32{0.5, -0.5})

		if _, err := reader.TensorData("0.bias"); !errors.Is(err, ErrClosed) {
			t.Errorf("Expected ErrClosed, got %v", err)
		}
	}
}

func TestMmapReaderNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")
	writeTestFile(t, path, FormatVersionV2, nil)

	reader, err := NewMmapReader(path)
	if err != nil {
		t.Fatalf("NewMmapReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.LoadTensor("missing"); !errors.Is(err, ErrTensorNotFound) {
		t.Errorf("Expected ErrTensorNotFound, got %v", err)
	}
}
