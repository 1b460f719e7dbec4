// Package webchat serves healthchat conversations to browsers.
//
// Ownership model:
//   - Each conversation owns a session (transcript store + controller), a
//     websocket ConnectionPool and a StreamCoordinator reading its topic.
//   - The session publishes frames on the event bus; the coordinator stamps
//     them with a sequence number, renders markdown and broadcasts them.
//   - Input arrives over POST /chat; sockets only receive.
//
// Setup:
//   - Build a redisstream.Bus, then a Server with NewServer and the prompt
//     builder and generator options.
//   - Run blocks until SIGINT/SIGTERM or context cancellation.
package webchat
