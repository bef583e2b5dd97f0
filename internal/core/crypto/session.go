package crypto

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
)

// NewSessionKey derives an opaque session key for username: the lower case hex
// MD5 of the username followed by a random 64 bit number in decimal.
func NewSessionKey(username string) (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating session key: %w", err)
	}
	n := binary.BigEndian.Uint64(b[:])
	sum := md5.Sum([]byte(username + strconv.FormatUint(n, 10)))
	return hex.EncodeToString(sum[:]), nil
}
