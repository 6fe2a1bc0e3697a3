package audit

import "strings"

// StripEmptyUserTurns removes "User:"-prefixed lines whose remaining text
// is blank from a conversation transcript before it is hashed, an optional
// step to keep cosmetic empty turns from producing distinct dictionary
// entries for what is otherwise the same conversation.
func StripEmptyUserTurns(transcript string) string {
	lines := strings.Split(transcript, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if rest, ok := strings.CutPrefix(line, "User:"); ok && strings.TrimSpace(rest) == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
