// Package openai answers research prompts through an OpenAI compatible Chat
// Completions endpoint. Any server speaking that protocol works, including
// OpenRouter and local model servers, by pointing the base URL at it.
//
// The API key and base URL default to OPENAI_API_KEY and OPENAI_API_BASE_URL.
package openai
