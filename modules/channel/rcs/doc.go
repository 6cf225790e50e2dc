// Package rcs implements the RCS channel on top of Google RCS Business
// Messaging.
//
// The agent authenticates with a service account key, or a static access
// token for testing. Outbound messages and agent events go through the RBM
// REST API. User messages and events are pushed to the gateway's
// /webhooks/{channel_id} endpoint wrapped in a Pub/Sub envelope and signed
// with the agent's client token. The one-time webhook handshake is answered
// by echoing its secret.
package rcs
