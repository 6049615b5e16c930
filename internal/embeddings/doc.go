// Package embeddings provides the embedders used by the vector engine.
//
// Providers:
//   - deterministic: feature-hashed bag of words, no network, for tests and
//     single-node setups where semantic quality does not matter
//   - tei: HuggingFace Text Embeddings Inference over HTTP
//   - openai: any OpenAI-compatible endpoint through langchaingo
//   - fastembed: local ONNX models (requires cgo)
package embeddings
