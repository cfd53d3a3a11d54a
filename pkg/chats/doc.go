// Package chats is the conversation model the agents, the society and every
// provider share. A [github.com/germanamz/owl/pkg/chats/chat.Chat] is a log of
// messages; each message has a role and a list of content parts (text,
// images, tool calls and tool results).
package chats
