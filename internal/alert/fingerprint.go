package alert

import (
	"crypto/md5"
	"encoding/base64"
	"strings"
)

const fingerprintDelimiter = ","

// Fingerprint derives a short change-detection token from the ordered
// candidate IDs: MD5 over the comma-joined IDs, standard base64, truncated to
// length characters. The value is only ever compared for equality. An empty
// ID list yields "".
func Fingerprint(ids []string, length int) string {
	if len(ids) == 0 {
		return ""
	}
	if length <= 0 {
		length = DefaultFingerprintLength
	}
	sum := md5.Sum([]byte(strings.Join(ids, fingerprintDelimiter)))
	enc := base64.StdEncoding.EncodeToString(sum[:])
	if length > len(enc) {
		length = len(enc)
	}
	return enc[:length]
}
