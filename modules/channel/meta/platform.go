package meta

import (
	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// platform holds what differs between Messenger and Instagram.
type platform struct {
	name      string
	moduleID  string
	object    string
	apiURL    string
	maxText   int
	limits    channel.Limits
	typing    bool
	upload    bool
	content   []message.ContentType
	accountFn string
}

var messenger = &platform{
	name:     "messenger",
	moduleID: "channel.messenger",
	object:   "page",
	apiURL:   "https://graph.facebook.com",
	maxText:  2000,
	limits:   channel.MessengerLimits,
	typing:   true,
	upload:   true,
	content: []message.ContentType{
		message.ContentText,
		message.ContentImage,
		message.ContentVideo,
		message.ContentAudio,
		message.ContentDocument,
	},
	accountFn: "id,name",
}

var instagram = &platform{
	name:     "instagram",
	moduleID: "channel.instagram",
	object:   "instagram",
	apiURL:   "https://graph.instagram.com",
	maxText:  1000,
	limits:   channel.InstagramLimits,
	content: []message.ContentType{
		message.ContentText,
		message.ContentImage,
		message.ContentVideo,
		message.ContentAudio,
		message.ContentReaction,
	},
	accountFn: "id,username",
}
