package matrix

import (
	"regexp"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// fallbackSender matches the "<@user:server>" marker on the first line of a
// reply fallback.
var fallbackSender = regexp.MustCompile(`^<(@[^>\s]+)>\s?`)

// SplitReplyFallback separates the quoted "> " lines that older clients put
// in front of a reply from the reply text. It returns the quoted sender (if
// marked), the quoted text and the remaining body. A body without a fallback
// comes back unchanged as text.
func SplitReplyFallback(body string) (sender id.UserID, quote, text string) {
	lines := strings.Split(body, "\n")
	n := 0
	for n < len(lines) && strings.HasPrefix(lines[n], ">") {
		n++
	}
	if n == 0 {
		return "", "", body
	}

	quoted := make([]string, 0, n)
	for i, line := range lines[:n] {
		line = strings.TrimPrefix(line, ">")
		line = strings.TrimPrefix(line, " ")
		if i == 0 {
			if m := fallbackSender.FindStringSubmatch(line); m != nil {
				sender = id.UserID(m[1])
				line = line[len(m[0]):]
			}
			line = strings.TrimPrefix(line, "* ") // emote fallback
		}
		quoted = append(quoted, line)
	}
	quote = strings.TrimSpace(strings.Join(quoted, "\n"))
	text = strings.TrimSpace(strings.Join(lines[n:], "\n"))
	return sender, quote, text
}

// replyTarget returns the event a message replies to, or "".
func replyTarget(content *event.MessageEventContent) id.EventID {
	if content.RelatesTo == nil || content.RelatesTo.InReplyTo == nil {
		return ""
	}
	return content.RelatesTo.InReplyTo.EventID
}

// localpart returns "bot" for "@bot:example.org".
func localpart(userID id.UserID) string {
	s := strings.TrimPrefix(string(userID), "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}

// Mentioned reports whether content addresses botID, either through
// m.mentions or by naming the bot in the body (full ID, "@localpart" or
// the display name).
func Mentioned(content *event.MessageEventContent, body string, botID id.UserID, displayName string) bool {
	if content.Mentions != nil {
		for _, uid := range content.Mentions.UserIDs {
			if uid == botID {
				return true
			}
		}
	}
	lower := strings.ToLower(body)
	for _, needle := range mentionForms(botID, displayName) {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// StripMention removes every textual mention of the bot and tidies the
// punctuation a client leaves behind ("Bot: hi" becomes "hi").
func StripMention(body string, botID id.UserID, displayName string) string {
	out := body
	for _, needle := range mentionForms(botID, displayName) {
		out = replaceFold(out, needle)
	}
	out = strings.TrimSpace(out)
	out = strings.TrimLeft(out, ":,")
	return strings.Join(strings.Fields(out), " ")
}

// mentionForms lists lower-cased textual forms of the bot's name, longest
// first so the full ID is removed before its localpart.
func mentionForms(botID id.UserID, displayName string) []string {
	forms := []string{strings.ToLower(string(botID)), "@" + strings.ToLower(localpart(botID))}
	if dn := strings.ToLower(strings.TrimSpace(displayName)); dn != "" && dn != localpart(botID) {
		forms = append(forms, dn)
	}
	return forms
}

// replaceFold deletes all case-insensitive occurrences of lowerNeedle.
func replaceFold(s, lowerNeedle string) string {
	if lowerNeedle == "" {
		return s
	}
	var b strings.Builder
	lower := strings.ToLower(s)
	if len(lower) != len(s) {
		// Case folding changed byte lengths; fall back to exact matching.
		return strings.ReplaceAll(s, lowerNeedle, "")
	}
	i := 0
	for {
		j := strings.Index(lower[i:], lowerNeedle)
		if j < 0 {
			b.WriteString(s[i:])
			return b.String()
		}
		b.WriteString(s[i : i+j])
		i += j + len(lowerNeedle)
	}
}
