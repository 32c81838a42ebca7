package apple_iap

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// App account tokens carry the user id in a reversible layout:
// [2-hex length][hex user id][padding with 'a' up to 32 hex chars].
const (
	tokenHexLen     = 32
	maxUserIDHexLen = 30
	padChar         = "a"
)

// UserIDToUUID encodes a hex user id as an appAccountToken UUID.
func UserIDToUUID(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is empty")
	}
	normalized := strings.ToLower(userID)
	if _, err := hex.DecodeString(evenPad(normalized)); err != nil {
		return "", fmt.Errorf("string is not valid hex")
	}
	if len(normalized) > maxUserIDHexLen {
		return "", fmt.Errorf("hex string too long: max length is %d", maxUserIDHexLen)
	}

	raw := fmt.Sprintf("%02x%s", len(normalized), normalized)
	raw += strings.Repeat(padChar, tokenHexLen-len(raw))
	b, err := hex.DecodeString(raw)
	if err != nil {
		return "", err
	}
	u, err := uuid.FromBytes(b)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// UUIDToUserID decodes an appAccountToken produced by UserIDToUUID.
func UUIDToUserID(token string) (string, error) {
	u, err := uuid.Parse(token)
	if err != nil {
		return "", fmt.Errorf("invalid uuid format")
	}
	raw := hex.EncodeToString(u[:])

	size, err := strconv.ParseUint(raw[:2], 16, 8)
	if err != nil || size == 0 || size > maxUserIDHexLen {
		return "", fmt.Errorf("uuid is not encoded by known user id scheme")
	}
	end := 2 + int(size)
	if strings.Trim(raw[end:], padChar) != "" {
		return "", fmt.Errorf("uuid is not encoded by known user id scheme")
	}
	return raw[2:end], nil
}

func evenPad(s string) string {
	if len(s)%2 == 1 {
		return s + "0"
	}
	return s
}
