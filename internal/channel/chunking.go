package channel

import (
	"maps"
	"strings"
	"unicode/utf8"

	"github.com/flemzord/sbridge/pkg/message"
)

// ChunkConfig controls how outbound text is split to fit a platform's
// maximum message length.
type ChunkConfig struct {
	// MaxLength is the maximum number of characters per chunk. A value
	// <= 0 disables splitting.
	MaxLength int

	// PreserveBlocks keeps a fenced code block in a single chunk whenever
	// the block fits in MaxLength on its own.
	PreserveBlocks bool
}

// SplitMessage splits a text message whose content is longer than
// cfg.MaxLength. Other content types are returned unchanged, since their
// text is a caption the platform bounds separately. The first chunk keeps
// the attachments and the reply reference.
func SplitMessage(msg message.OutboundMessage, cfg ChunkConfig) []message.OutboundMessage {
	if msg.ContentType != message.ContentText && msg.ContentType != "" {
		return []message.OutboundMessage{msg}
	}
	chunks := SplitText(msg.Content, cfg)
	if len(chunks) == 1 {
		return []message.OutboundMessage{msg}
	}

	out := make([]message.OutboundMessage, len(chunks))
	for i, chunk := range chunks {
		out[i] = message.OutboundMessage{
			RecipientID: msg.RecipientID,
			Content:     chunk,
			ContentType: message.ContentText,
			Metadata:    maps.Clone(msg.Metadata),
		}
	}
	out[0].Attachments = msg.Attachments
	out[0].ReplyToID = msg.ReplyToID
	return out
}

// SplitText breaks text into chunks of at most cfg.MaxLength characters.
// It cuts at line breaks when it can, then at spaces, and only then inside
// a word. Blank lines at a cut are dropped.
func SplitText(text string, cfg ChunkConfig) []string {
	if cfg.MaxLength <= 0 || utf8.RuneCountInString(text) <= cfg.MaxLength {
		return []string{text}
	}

	units := strings.Split(text, "\n")
	if cfg.PreserveBlocks {
		units = fencedUnits(units)
	}

	p := packer{max: cfg.MaxLength}
	for _, u := range units {
		if utf8.RuneCountInString(u) > cfg.MaxLength && strings.Contains(u, "\n") {
			// A code block too large to keep whole goes line by line.
			for _, line := range strings.Split(u, "\n") {
				p.add(line)
			}
			continue
		}
		p.add(u)
	}
	p.flush()
	return p.out
}

// fencedUnits merges the lines of each ``` fenced block, fences included,
// into one unit. An unterminated block runs to the end of the text.
func fencedUnits(lines []string) []string {
	units := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		if !isFence(lines[i]) {
			units = append(units, lines[i])
			continue
		}
		end := len(lines) - 1
		for j := i + 1; j < len(lines); j++ {
			if isFence(lines[j]) {
				end = j
				break
			}
		}
		units = append(units, strings.Join(lines[i:end+1], "\n"))
		i = end
	}
	return units
}

func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

// packer joins units with newlines into chunks of at most max characters.
type packer struct {
	max     int
	cur     strings.Builder
	curLen  int
	started bool
	out     []string
}

func (p *packer) add(unit string) {
	n := utf8.RuneCountInString(unit)
	sep := 0
	if p.started {
		sep = 1
	}
	if p.curLen+sep+n <= p.max {
		if p.started {
			p.cur.WriteByte('\n')
		}
		p.cur.WriteString(unit)
		p.curLen += sep + n
		p.started = true
		return
	}

	p.flush()
	if n > p.max {
		pieces := wrapLine(unit, p.max)
		p.out = append(p.out, pieces[:len(pieces)-1]...)
		unit = pieces[len(pieces)-1]
		n = utf8.RuneCountInString(unit)
	}
	p.cur.WriteString(unit)
	p.curLen = n
	p.started = true
}

func (p *packer) flush() {
	if s := strings.Trim(p.cur.String(), "\n"); s != "" {
		p.out = append(p.out, s)
	}
	p.cur.Reset()
	p.curLen = 0
	p.started = false
}

// wrapLine cuts a line longer than max characters. A cut lands after the
// last space of the window when that space is past its middle, otherwise
// at the window's end. The pieces concatenate back to line.
func wrapLine(line string, max int) []string {
	var pieces []string
	for utf8.RuneCountInString(line) > max {
		cut := runeOffset(line, max)
		if i := strings.LastIndexByte(line[:cut], ' '); i >= cut/2 {
			cut = i + 1
		}
		pieces = append(pieces, line[:cut])
		line = line[cut:]
	}
	return append(pieces, line)
}

// runeOffset returns the byte offset of the n-th rune of s.
func runeOffset(s string, n int) int {
	off := 0
	for range n {
		_, size := utf8.DecodeRuneInString(s[off:])
		off += size
	}
	return off
}
