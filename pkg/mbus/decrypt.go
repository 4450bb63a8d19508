package mbus

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// BuildIV constructs the AES-128-CBC initialisation vector for M-Bus
// mode 5: manufacturer(2) LE || address(4) LE || version(1) || medium(1)
// || access_no repeated to fill the remaining 8 bytes, for 16 bytes total.
func BuildIV(h ShortHeader, accessNo byte) [16]byte {
	var iv [16]byte
	iv[0] = h.Manufacturer[0]
	iv[1] = h.Manufacturer[1]
	iv[2] = h.Address[0]
	iv[3] = h.Address[1]
	iv[4] = h.Address[2]
	iv[5] = h.Address[3]
	iv[6] = h.Version
	iv[7] = h.Medium
	for i := 8; i < 16; i++ {
		iv[i] = accessNo
	}
	return iv
}

// Decrypt runs AES-128-CBC over an encrypted wireless M-Bus payload and
// reports whether the result is valid: the plaintext must begin `2F 2F`,
// otherwise the key was wrong and no records may be yielded from it.
//
// accessNo is supplied by the caller (the wireless LMN reader passes the
// access number from the transport header), not parsed out of payload.
func Decrypt(h ShortHeader, accessNo byte, key [16]byte, payload []byte) (plaintext []byte, valid bool, err error) {
	if len(payload)%aes.BlockSize != 0 {
		return nil, false, fmt.Errorf("mbus: payload length %d not a multiple of block size", len(payload))
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, false, fmt.Errorf("mbus: %w", err)
	}
	iv := BuildIV(h, accessNo)
	out := make([]byte, len(payload))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out, payload)

	if len(out) < 2 || out[0] != 0x2F || out[1] != 0x2F {
		return out, false, nil
	}
	return out, true, nil
}

// Encrypt is the inverse of Decrypt, used by tests and by any component
// emitting synthetic wireless M-Bus frames.
func Encrypt(h ShortHeader, accessNo byte, key [16]byte, plaintext []byte) ([]byte, error) {
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("mbus: plaintext length %d not a multiple of block size", len(plaintext))
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("mbus: %w", err)
	}
	iv := BuildIV(h, accessNo)
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out, plaintext)
	return out, nil
}

// StripPadding removes the 0x2F padding bytes M-Bus appends to fill the
// final cipher block.
func StripPadding(plaintext []byte) []byte {
	end := len(plaintext)
	for end > 0 && plaintext[end-1] == 0x2F {
		end--
	}
	return plaintext[:end]
}
