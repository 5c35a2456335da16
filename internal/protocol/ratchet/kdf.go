package ratchet

import (
	"encoding/binary"

	"ciphermesh/internal/crypto"
	"ciphermesh/internal/domain"
)

const (
	infoRoot   = "ciphermesh-ratchet-root"
	infoStep   = "ciphermesh-ratchet-step"
	infoCipher = "ciphermesh-message-key"

	// HeaderSize is the encoded length of a Header.
	HeaderSize = 32 + 4 + 4
)

// Header is sent in the clear with every message and authenticated as
// associated data.
type Header struct {
	DHPub domain.X25519Public
	PN    uint32 // length of the sender's previous sending chain
	N     uint32 // counter within the current sending chain
}

// Bytes encodes the header as DHPub || PN || N, big-endian.
func (h Header) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, h.DHPub[:])
	binary.BigEndian.PutUint32(buf[32:], h.PN)
	binary.BigEndian.PutUint32(buf[36:], h.N)
	return buf
}

// Message is the output of Encrypt.
type Message struct {
	Header     Header
	Ciphertext []byte
	AuthTag    []byte
}

func deriveRoot(secret []byte) [32]byte {
	var rk [32]byte
	out := crypto.HKDF(secret, nil, []byte(infoRoot), 32)
	copy(rk[:], out)
	crypto.Wipe(out)
	return rk
}

// kdfRoot mixes a DH output into the root key and returns the new root key
// and a fresh chain key.
func kdfRoot(root [32]byte, dh [32]byte) (newRoot, chain [32]byte) {
	out := crypto.HKDF(dh[:], root[:], []byte(infoStep), 64)
	copy(newRoot[:], out[:32])
	copy(chain[:], out[32:])
	crypto.Wipe(out)
	return newRoot, chain
}

// kdfChain returns the next chain key and the message key for the current
// counter.
func kdfChain(chain [32]byte) (next, mk [32]byte) {
	a := crypto.HMAC(chain[:], []byte{0x02})
	b := crypto.HMAC(chain[:], []byte{0x01})
	copy(next[:], a)
	copy(mk[:], b)
	crypto.Wipe(a)
	crypto.Wipe(b)
	return next, mk
}

// deriveCipherParams expands a message key into an AEAD key and nonce. Each
// message key is used once, so the nonce never repeats under a key.
func deriveCipherParams(mk [32]byte) (key [crypto.KeySize]byte, nonce [crypto.NonceSize]byte) {
	out := crypto.HKDF(mk[:], nil, []byte(infoCipher), crypto.KeySize+crypto.NonceSize)
	copy(key[:], out[:crypto.KeySize])
	copy(nonce[:], out[crypto.KeySize:])
	crypto.Wipe(out)
	return key, nonce
}

func sealMessage(mk [32]byte, ad []byte, h Header, plaintext []byte) ([]byte, []byte, error) {
	key, nonce := deriveCipherParams(mk)
	defer crypto.Wipe32(&key)
	return crypto.Seal(key, nonce, plaintext, append(append([]byte(nil), ad...), h.Bytes()...))
}

func openMessage(mk [32]byte, ad []byte, m Message) ([]byte, error) {
	key, nonce := deriveCipherParams(mk)
	defer crypto.Wipe32(&key)
	return crypto.Open(key, nonce, m.Ciphertext, m.AuthTag, append(append([]byte(nil), ad...), m.Header.Bytes()...))
}
