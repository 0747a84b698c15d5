// Package loader opens trained model files and exposes their tensors
// behind a single ModelReader interface.
//
// Supported formats:
//   - .born: v1 and v2 (checksummed), read through a file or memory map
//   - .safetensors: F16 and BF16 tensors are widened to float32
//   - .onnx: initializers, with the decoded graph available for import
//   - .h5, .hdf5: Keras layer weights, with the model_config attribute
//     available for import
//
// Keras v3 .keras archives are recognised and rejected.
//
// Example:
//
//	model, err := loader.OpenModel("autoencoder_model.born", loader.WithMmap(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer model.Close()
//
//	weights, err := loader.LoadAll(ctx, model, 4)
package loader
