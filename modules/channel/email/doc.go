// Package email implements the email channel: SMTP for outbound mail and
// Mailgun-style routes for inbound mail.
//
// Outbound messages are built and sent with go-mail. Replies carry
// In-Reply-To and References so mail clients thread them. Inbound mail and
// delivery events are posted to the gateway's /webhooks/{channel_id}
// endpoint, either as a form (with attachments as multipart files) or as a
// JSON event. Both are signed with an HMAC of timestamp and token.
package email
