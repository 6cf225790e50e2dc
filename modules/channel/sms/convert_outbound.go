package sms

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

var errNeedsMediaURL = errors.New("sms: MMS media must be reachable by URL")

// buildParams converts msg into a CreateMessage request.
func buildParams(cfg *Config, msg message.OutboundMessage) (*openapi.CreateMessageParams, error) {
	to, err := normalizeNumber(msg.RecipientID, cfg.DefaultCountryCode)
	if err != nil {
		return nil, err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	if cfg.MessagingServiceSID != "" {
		params.SetMessagingServiceSid(cfg.MessagingServiceSID)
	} else {
		params.SetFrom(cfg.From)
	}
	if cfg.StatusCallback {
		params.SetStatusCallback(cfg.WebhookURL)
	}

	switch msg.ContentType {
	case message.ContentText, "":
		if msg.Content == "" {
			return nil, &channel.InvalidOutboundMessageError{Field: "content"}
		}
		params.SetBody(msg.Content)
	case message.ContentImage, message.ContentVideo, message.ContentAudio, message.ContentDocument:
		if len(msg.Attachments) == 0 {
			return nil, &channel.InvalidOutboundMessageError{Field: "attachments"}
		}
		urls := make([]string, 0, len(msg.Attachments))
		for _, a := range msg.Attachments {
			if a.URL == "" {
				return nil, errNeedsMediaURL
			}
			urls = append(urls, a.URL)
		}
		params.SetMediaUrl(urls)
		body := msg.Content
		if body == "" {
			body = msg.Attachments[0].Caption
		}
		if body != "" {
			params.SetBody(body)
		}
	case message.ContentLocation:
		body, err := locationBody(msg)
		if err != nil {
			return nil, err
		}
		params.SetBody(body)
	default:
		return nil, fmt.Errorf("%w: %s content over sms", channel.ErrNotSupported, msg.ContentType)
	}
	return params, nil
}

// locationBody renders a location as text with a maps link, since SMS has
// no location type.
func locationBody(msg message.OutboundMessage) (string, error) {
	l := msg.Location
	if l == nil || l.Latitude == nil || l.Longitude == nil {
		return "", &channel.InvalidOutboundMessageError{Field: "location"}
	}
	coords := strconv.FormatFloat(*l.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(*l.Longitude, 'f', -1, 64)
	var lines []string
	for _, s := range []string{l.Name, l.Address} {
		if s != "" {
			lines = append(lines, s)
		}
	}
	lines = append(lines, "https://maps.google.com/?q="+coords)
	return strings.Join(lines, "\n"), nil
}

// sendStatus maps the status Twilio returns on create. Queued messages are
// still pending delivery to the carrier.
func sendStatus(status string) message.MessageStatus {
	switch status {
	case "queued", "accepted", "scheduled":
		return message.StatusPending
	default:
		return message.StatusSent
	}
}
