package channel

import (
	"strings"

	"github.com/flemzord/sbridge/pkg/message"
)

// AllowList decides which senders and group chats reach the message
// handler. Entries match case-insensitively and a leading "+" is ignored,
// so "+491701234567" matches the WhatsApp sender
// "491701234567:12@s.whatsapp.net". The entry "*" matches everyone.
type AllowList struct {
	users  map[string]struct{}
	groups map[string]struct{}
}

// AllowListConfig is the allow_list section shared by channel modules.
type AllowListConfig struct {
	Users  []string `yaml:"users"`
	Groups []string `yaml:"groups"`
}

// Build returns nil, meaning no filtering, when no entries are configured.
func (c *AllowListConfig) Build() *AllowList {
	if c == nil || (len(c.Users) == 0 && len(c.Groups) == 0) {
		return nil
	}
	return NewAllowList(c.Users, c.Groups)
}

// NewAllowList builds a list from user and group entries. Blank entries
// are ignored; a list with no entries denies everyone.
func NewAllowList(users, groups []string) *AllowList {
	return &AllowList{users: entrySet(users), groups: entrySet(groups)}
}

func entrySet(entries []string) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if k := normalizeID(e); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// IsAllowed reports whether msg may be delivered: its sender is a listed
// user, or it was posted in a listed group. Group entries never admit a
// direct chat.
func (a *AllowList) IsAllowed(msg message.InboundMessage) bool {
	if a == nil {
		return false
	}
	if matches(a.users, msg.SenderID) {
		return true
	}
	return msg.IsGroup && matches(a.groups, msg.ChatID)
}

func matches(set map[string]struct{}, id string) bool {
	if len(set) == 0 {
		return false
	}
	if _, ok := set["*"]; ok {
		return true
	}
	for _, k := range idForms(id) {
		if _, ok := set[k]; ok {
			return true
		}
	}
	return false
}

// idForms returns the spellings id can be listed under. A JID such as
// "4917:12@s.whatsapp.net" is also tried without its device suffix and as
// its bare user part.
func idForms(id string) []string {
	full := normalizeID(id)
	user, server, ok := strings.Cut(full, "@")
	if !ok {
		return []string{full}
	}
	bare, _, _ := strings.Cut(user, ":")
	return []string{full, bare + "@" + server, bare}
}

func normalizeID(s string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "+")
}
