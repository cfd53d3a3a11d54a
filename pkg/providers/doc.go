// Package providers groups the concrete chat model backends.
//
//   - [github.com/germanamz/owl/pkg/providers/openai] speaks the OpenAI Chat
//     Completions protocol and serves OpenRouter, OpenAI and xAI.
//   - [github.com/germanamz/owl/pkg/providers/anthropic] speaks the Anthropic
//     Messages API.
//   - [github.com/germanamz/owl/pkg/providers/gemini] speaks the Gemini
//     generateContent API.
//   - [github.com/germanamz/owl/pkg/providers/openaisdk] builds go-openai
//     clients for the connectivity check and audio transcription.
//
// Shared HTTP, auth and rate limiting live in pkg/modeladapter.
package providers
