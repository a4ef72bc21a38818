// Package latin1 transcodes the ISO-8859-1 labels carried in DAB FIG 1
// segments (ensemble and programme-service labels) to UTF-8.
package latin1

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// ToUTF8 decodes a fixed-width ISO-8859-1 label, trims trailing space
// padding (and any trailing NUL), and returns the UTF-8 result. DAB labels
// are always 16 bytes space-padded (spec ETSI EN 300 401 FIG 1), but the
// function accepts any length for reuse by shorter fields.
func ToUTF8(label []byte) string {
	trimmed := strings.TrimRight(string(label), " \x00")
	out, err := charmap.ISO8859_1.NewDecoder().String(trimmed)
	if err != nil {
		// ISO-8859-1 maps every byte value, so NewDecoder().String never
		// actually fails; fall back to the raw trimmed bytes defensively.
		return trimmed
	}
	return out
}
