// Package llm provides the chat-completion client shared by the intent
// classifier and the domain plugins. The only transport implemented is the
// OpenAI-compatible /v1/chat/completions surface, which every major hosted
// model speaks.
package llm
