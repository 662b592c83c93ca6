// Package providers defines the generative call capability shared by the
// concrete adapters (gemini, openai) and the gateway that drives them.
//
// A Provider performs exactly one call with the credential it is handed; key
// selection, retries, caching and rate limiting all live in the gateway.
// Adapters tag their errors with services markers so Classify can decide
// whether a failure is quota related (rotate keys), transient (retry on the
// same key), a validation problem (fail fast) or fatal.
package providers
