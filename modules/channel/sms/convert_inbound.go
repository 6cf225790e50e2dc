package sms

import (
	"net/url"
	"strconv"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// Metadata keys specific to SMS.
const (
	metaTo          = "to"
	metaFromCity    = "from_city"
	metaFromCountry = "from_country"
	metaNumSegments = "num_segments"
	metaService     = "messaging_service_sid"
)

// maxMedia is the most attachments Twilio reports on one message.
const maxMedia = 10

// callbackStatus is MessageStatus, or SmsStatus on older callbacks.
func callbackStatus(form url.Values) string {
	if s := form.Get("MessageStatus"); s != "" {
		return s
	}
	return form.Get("SmsStatus")
}

// isInbound reports whether form is an incoming message rather than a
// status callback for one of ours.
func isInbound(form url.Values) bool {
	s := callbackStatus(form)
	return s == "" || s == "received"
}

func messageSID(form url.Values) string {
	if sid := form.Get("MessageSid"); sid != "" {
		return sid
	}
	return form.Get("SmsSid")
}

// convertInbound maps an incoming message post. It reports false when the
// post has no sender or sid.
func convertInbound(form url.Values, now time.Time) (message.InboundMessage, bool) {
	sid, from := messageSID(form), form.Get("From")
	if sid == "" || from == "" {
		return message.InboundMessage{}, false
	}
	msg := message.InboundMessage{
		ExternalID:  sid,
		SenderID:    from,
		ChatID:      from,
		SenderName:  form.Get("ProfileName"),
		Content:     form.Get("Body"),
		ContentType: message.ContentText,
		Timestamp:   now,
	}
	msg.SetGroup(false)
	msg.SetMeta(metaTo, form.Get("To"))
	for key, field := range map[string]string{
		metaFromCity:    "FromCity",
		metaFromCountry: "FromCountry",
		metaNumSegments: "NumSegments",
		metaService:     "MessagingServiceSid",
	} {
		if v := form.Get(field); v != "" {
			msg.SetMeta(key, v)
		}
	}
	if msg.SenderName != "" {
		msg.SetMeta(message.MetaPushName, msg.SenderName)
	}
	if sid := form.Get("OriginalRepliedMessageSid"); sid != "" {
		msg.SetReplyTo(message.ReplyTo{MessageID: sid})
	}

	if lat, lon, ok := location(form); ok {
		msg.ContentType = message.ContentLocation
		msg.Attachments = []message.Attachment{{
			Type:      message.AttachmentLocation,
			Latitude:  lat,
			Longitude: lon,
			Caption:   form.Get("Label"),
		}}
		return msg, true
	}

	n, _ := strconv.Atoi(form.Get("NumMedia"))
	for i := range min(n, maxMedia) {
		u := form.Get("MediaUrl" + strconv.Itoa(i))
		if u == "" {
			continue
		}
		mt := channel.NormalizeMIME(form.Get("MediaContentType" + strconv.Itoa(i)))
		msg.Attachments = append(msg.Attachments, message.Attachment{
			Type:     channel.ClassifyInbound(mt),
			URL:      u,
			MediaID:  u,
			MIMEType: mt,
			Filename: channel.FilenameFor(sid+"-"+strconv.Itoa(i), mt),
		})
	}
	if len(msg.Attachments) > 0 {
		msg.ContentType = channel.ContentTypeFor(msg.Attachments[0].Type)
		msg.Attachments[0].Caption = msg.Content
	}
	return msg, true
}

// location reads the coordinates WhatsApp senders share through Twilio.
func location(form url.Values) (float64, float64, bool) {
	lat, err1 := strconv.ParseFloat(form.Get("Latitude"), 64)
	lon, err2 := strconv.ParseFloat(form.Get("Longitude"), 64)
	return lat, lon, err1 == nil && err2 == nil
}

// convertStatus maps a status callback to a receipt. Only delivered and
// read are receipts; other states are progress or failures.
func convertStatus(form url.Values, now time.Time) (message.DeliveryReceipt, bool) {
	status := callbackStatus(form)
	if status != "delivered" && status != "read" {
		return message.DeliveryReceipt{}, false
	}
	sid := messageSID(form)
	if sid == "" {
		return message.DeliveryReceipt{}, false
	}
	to := form.Get("To")
	return channel.NewReceipt([]string{sid}, to, to, status, now), true
}
