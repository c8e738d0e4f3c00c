package crypto

import "encoding/base64"

// EncodeIV encodes a raw IV for storage in an envelope.
func EncodeIV(iv []byte) string {
	return base64.StdEncoding.EncodeToString(iv)
}

// DecodeIV decodes a base64 IV as stored in an envelope.
func DecodeIV(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
