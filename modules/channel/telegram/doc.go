// Package telegram implements the Telegram Bot API channel.
//
// Requests go through go-telegram-bot-api. Updates arrive either by long
// polling (the default) or through the gateway's webhook endpoint, which
// checks the X-Telegram-Bot-Api-Secret-Token header. Outbound text is
// converted to MarkdownV2 unless parse_mode says otherwise.
//
// Media attachments carry the Telegram file_id as their MediaID; download
// resolves it with getFile. The Bot API has no upload endpoint, so outbound
// media is sent inline or by URL.
package telegram
