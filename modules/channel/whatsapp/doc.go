// Package whatsapp implements the WhatsApp channel on top of whatsmeow, the
// multi-device web protocol client.
//
// The gateway links to a phone as a companion device, either by scanning a
// QR code or by typing a pairing code on the phone. Device keys live in a
// SQLite database under the data directory, so restarts reconnect without a
// new login.
//
// Inbound messages are normalized as follows:
//
//   - stickers become image messages with metadata is_sticker=true
//   - voice notes become audio messages with metadata is_ptt=true
//   - replies set reply_to_id and quoted_text
//   - locations carry the address as the attachment caption
//
// Media of recent inbound messages can be downloaded by message id through
// DownloadMedia. Outbound recipients are either full JIDs or phone numbers.
//
// The module registers itself as "channel.whatsapp".
package whatsapp
