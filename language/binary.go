package language

import "bytes"

// SniffLength is the number of leading bytes the classifier inspects.
const SniffLength = 512

var (
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// IsBinaryContent checks the first SniffLength bytes for NUL bytes.
// UTF-16 text carrying a byte order mark is not binary.
func IsBinaryContent(data []byte) bool {
	if bytes.HasPrefix(data, bomUTF16LE) || bytes.HasPrefix(data, bomUTF16BE) {
		return false
	}
	checkSize := SniffLength
	if len(data) < checkSize {
		checkSize = len(data)
	}
	return bytes.IndexByte(data[:checkSize], 0) >= 0
}
