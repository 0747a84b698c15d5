// Package serialization reads and writes the native .born model format.
//
// The .born format is what the Born training loop saves checkpoints and
// finished models in, and is the default input of the web exporter:
//
//	Format v1:
//	  [4 bytes: Magic "BORN"]
//	  [4 bytes: Version (uint32 LE)]
//	  [4 bytes: Flags (uint32 LE)]
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON metadata]
//	  [Tensor data: raw bytes, 64-byte aligned]
//
//	Format v2 (64-byte fixed header):
//	  0x00 magic, 0x04 version, 0x08 flags, 0x0C reserved,
//	  0x10 header size, 0x18 data size, 0x20 SHA-256 of the data section
//	  [Header: JSON metadata]
//	  [Tensor data: raw bytes, 64-byte aligned]
//
// The JSON header lists every tensor with its dtype, shape, offset and size,
// plus a free-form string metadata map. The exporter reads two optional
// metadata keys: "architecture" (an embedded layer description) and
// "activation"/"output_activation" (hints for Sequential inference).
//
// Example usage:
//
//	reader, err := serialization.NewBornReader("autoencoder_model.born")
//	if err != nil {
//	    return err
//	}
//	defer reader.Close()
//	stateDict, err := reader.ReadStateDict()
package serialization
