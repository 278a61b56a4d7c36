package terminal

import (
	"strings"
)

// Named key sequences understood by SendKeys, mapped to the raw bytes a
// terminal expects.
var namedKeys = map[string][]byte{
	"ENTER": {'\n'},
	"TAB":   {'\t'},
	"BS":    {0x7f},
	"ESC":   {0x1b},
	"UP":    []byte("\x1b[A"),
	"DOWN":  []byte("\x1b[B"),
	"RIGHT": []byte("\x1b[C"),
	"LEFT":  []byte("\x1b[D"),
	"HOME":  []byte("\x1b[H"),
	"END":   []byte("\x1b[F"),
	"PGUP":  []byte("\x1b[5~"),
	"PGDN":  []byte("\x1b[6~"),
}

// IsControlChord reports whether the command text is a bare Ctrl chord of
// the form C-<key>, e.g. "C-c".
func IsControlChord(text string) bool {
	t := strings.TrimSpace(text)
	return len(t) == 3 && strings.HasPrefix(t, "C-")
}

// encodeKeys translates text into the raw byte payload to write to a
// terminal. Named sequences and C-<letter> chords become their control
// bytes; anything else is sent literally. The second return value reports
// whether text was recognized as a key sequence rather than literal text.
func encodeKeys(text string) ([]byte, bool) {
	upper := strings.ToUpper(strings.TrimSpace(text))
	if payload, ok := namedKeys[upper]; ok {
		return payload, true
	}
	for _, prefix := range []string{"C-", "CTRL-", "CTRL+"} {
		if !strings.HasPrefix(upper, prefix) {
			continue
		}
		key := upper[len(prefix):]
		if len(key) == 1 && key[0] >= 'A' && key[0] <= 'Z' {
			return []byte{key[0] & 0x1f}, true
		}
	}
	return []byte(text), false
}
