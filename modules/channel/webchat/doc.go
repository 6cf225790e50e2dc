// Package webchat implements the embedded web chat channel.
//
// Each visitor holds one WebSocket to GET /ws/{channel_id} on the gateway.
// Frames are JSON envelopes. The server assigns every message id, acks
// visitor messages with it, and keeps one session per visitor: a
// reconnect with the same session_id replaces the older socket. Media
// travels inline in the frame or by URL.
package webchat
