// Package sms implements the SMS and MMS channel on top of Twilio.
//
// Outbound messages go through the Programmable Messaging REST API from a
// phone number, an alphanumeric sender or a messaging service. Inbound
// messages and status callbacks are form posts to the gateway's
// /webhooks/{channel_id} endpoint. The receiver checks X-Twilio-Signature
// against webhook_url and answers with empty TwiML so Twilio sends no
// automatic reply.
package sms
