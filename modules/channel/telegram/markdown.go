package telegram

import (
	"strings"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// escapeV2 escapes text outside entities. The library's replacer skips the
// backslash, which MarkdownV2 also reserves.
func escapeV2(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, strings.ReplaceAll(s, `\`, `\\`))
}

// Inside code entities only the backtick and backslash are reserved.
var codeEscaper = strings.NewReplacer("\\", "\\\\", "`", "\\`")

// Inside the URL part of a link only ")" and backslash are reserved.
var linkEscaper = strings.NewReplacer("\\", "\\\\", ")", "\\)")

// FormatMarkdownV2 converts common markdown into Telegram MarkdownV2.
// Recognised: fenced code blocks, `code`, **bold**, *italic* or _italic_,
// __underline__, ~~strike~~ and [text](url). Everything else is escaped so
// the Bot API never rejects the text for malformed entities.
func FormatMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/8)

	fenced := false
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenced = !fenced
			b.WriteString(strings.TrimSpace(line))
			continue
		}
		if fenced {
			b.WriteString(codeEscaper.Replace(line))
			continue
		}
		writeInline(&b, []rune(line))
	}
	if fenced {
		// An unterminated fence would make the whole message invalid.
		b.WriteString("\n```")
	}
	return b.String()
}

// span maps a markdown delimiter onto its MarkdownV2 form.
type span struct {
	open string
	emit string
}

// Longer delimiters first so "**" wins over "*".
var spans = []span{
	{open: "**", emit: "*"},
	{open: "__", emit: "__"},
	{open: "~~", emit: "~"},
	{open: "*", emit: "_"},
	{open: "_", emit: "_"},
}

func writeInline(b *strings.Builder, line []rune) {
	for i := 0; i < len(line); {
		if line[i] == '`' {
			if end := indexFrom(line, i+1, "`"); end > i+1 {
				b.WriteByte('`')
				b.WriteString(codeEscaper.Replace(string(line[i+1 : end])))
				b.WriteByte('`')
				i = end + 1
				continue
			}
		}
		if line[i] == '[' {
			if text, url, next, ok := parseLink(line, i); ok {
				b.WriteByte('[')
				b.WriteString(escapeV2(text))
				b.WriteString("](")
				b.WriteString(linkEscaper.Replace(url))
				b.WriteByte(')')
				i = next
				continue
			}
		}
		if s, end, ok := matchSpan(line, i); ok {
			b.WriteString(s.emit)
			b.WriteString(escapeV2(string(line[i+len(s.open) : end])))
			b.WriteString(s.emit)
			i = end + len(s.open)
			continue
		}
		b.WriteString(escapeV2(string(line[i])))
		i++
	}
}

// matchSpan reports the emphasis span opening at i and the index of its
// closing delimiter. Spans must be non-empty and must not start with a
// space, so "2 * 3 * 4" stays literal. Single-rune delimiters only open at
// a word boundary, which keeps snake_case names intact.
func matchSpan(line []rune, i int) (span, int, bool) {
	for _, s := range spans {
		if !hasPrefixAt(line, i, s.open) {
			continue
		}
		if len(s.open) == 1 && i > 0 && isWordRune(line[i-1]) {
			return span{}, 0, false
		}
		start := i + len(s.open)
		if start >= len(line) || line[start] == ' ' {
			return span{}, 0, false
		}
		end := indexFrom(line, start, s.open)
		if end <= start {
			continue
		}
		return s, end, true
	}
	return span{}, 0, false
}

func parseLink(line []rune, i int) (text, url string, next int, ok bool) {
	rb := indexFrom(line, i+1, "]")
	if rb < 0 || rb+1 >= len(line) || line[rb+1] != '(' {
		return "", "", 0, false
	}
	end := indexFrom(line, rb+2, ")")
	if end < 0 || end == rb+2 {
		return "", "", 0, false
	}
	return string(line[i+1 : rb]), string(line[rb+2 : end]), end + 1, true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func hasPrefixAt(line []rune, i int, delim string) bool {
	for k, r := range delim {
		if i+k >= len(line) || line[i+k] != r {
			return false
		}
	}
	return true
}

func indexFrom(line []rune, from int, delim string) int {
	for i := from; i < len(line); i++ {
		if hasPrefixAt(line, i, delim) {
			return i
		}
	}
	return -1
}
