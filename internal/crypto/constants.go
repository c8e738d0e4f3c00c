package crypto

const (
	// RSAKeyBits is the modulus size for generated key pairs.
	RSAKeyBits = 2048

	// OAEPMaxPayload is the largest plaintext RSA-OAEP can carry for a
	// 2048-bit modulus with SHA-256: 256 - 2*32 - 2 bytes.
	OAEPMaxPayload = 190

	// GCMIVSize is the AES-GCM IV size in bytes (96 bits).
	GCMIVSize = 12

	// AESKeySize is the symmetric key size in bytes (AES-256).
	AESKeySize = 32

	// Argon2 parameters for the hardened password derivation mode
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32
	SaltSize            = 16
)
