// Package fingerprint turns a decoded image into a multi-modal
// fingerprint: three perceptual bit-string hashes (average-style phash,
// dhash and blockhash), an L1-normalized color histogram, a HOG-style shape
// descriptor over a Laplacian edge map, and an optional embedding produced
// by an ONNX image model.
//
// Every modality is computed independently. A modality that fails, or
// panics, is reported as a [ModalityError] and left absent in the
// [Fingerprint]; it is never stored as a zero value. Only a file that cannot
// be read or decoded is rejected outright, with a [DecodeError].
//
// Hashes are hex strings packed most significant bit first, so two hashes
// compare with [HammingDistance] and share prefixes that a catalog can
// index.
//
// The ONNX engine needs CGO and the onnxruntime shared library; without
// them [NewONNXEngine] returns an error and extraction simply omits the
// embedding.
package fingerprint
