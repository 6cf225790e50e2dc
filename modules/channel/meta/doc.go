// Package meta implements the Facebook Messenger and Instagram Direct
// channels on top of the Graph API.
//
// Both channels share one driver. They differ in their Graph host, the
// webhook object they accept and their platform limits. Updates are pushed
// to the gateway's /webhooks/{channel_id} endpoint; the receiver answers the
// hub.* verification handshake and checks X-Hub-Signature-256 with the app
// secret. Outbound requests are paced with a token bucket and carry an
// appsecret_proof when an app secret is configured.
package meta
