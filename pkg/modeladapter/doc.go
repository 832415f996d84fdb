// Package modeladapter holds the HTTP plumbing shared by chat-completion
// clients.
//
// It contains:
//   - [ModelAdapter], an embeddable base struct with request helpers, auth and custom headers
//   - [StatusError], returned for any non-2xx response, carrying the status code and text
//   - [github.com/germanamz/geoprompt/pkg/modeladapter/usage], a thread-safe token usage tracker
//
// The package knows nothing about prompts or applets; concrete clients live
// in separate packages that embed ModelAdapter.
package modeladapter
