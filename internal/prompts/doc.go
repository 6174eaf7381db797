// Package prompts contains all LLM prompt templates used by the
// pipeline stages. Keeping them in one place makes prompt drift
// reviewable without digging through stage code.
package prompts
