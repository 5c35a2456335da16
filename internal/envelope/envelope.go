package envelope

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ciphermesh/internal/crypto"
	"ciphermesh/internal/domain"
	"ciphermesh/internal/protocol/ratchet"
)

// Version is the current wire version.
const Version = 1

var (
	// ErrMalformed is returned for bytes that do not decode to a well-formed
	// envelope.
	ErrMalformed = errors.New("envelope: malformed")
	// ErrUnknownKind is returned for an unrecognized discriminant.
	ErrUnknownKind = errors.New("envelope: unknown kind")
)

// Kind discriminates envelope payloads.
type Kind uint8

const (
	KindHandshake Kind = 1
	KindMessage   Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindMessage:
		return "message"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Header is the cleartext ratchet header.
type Header struct {
	DHPub domain.X25519Public `cbor:"1,keyasint"`
	PN    uint32              `cbor:"2,keyasint"`
	N     uint32              `cbor:"3,keyasint"`
}

// Message is one ratchet-encrypted payload.
type Message struct {
	Header     Header `cbor:"1,keyasint"`
	Ciphertext []byte `cbor:"2,keyasint"`
	AuthTag    []byte `cbor:"3,keyasint"`
}

// HandshakeInit opens a session: the responder runs X3DH from PreKey and
// then opens Message with the new session.
type HandshakeInit struct {
	PreKey  domain.PreKeyMessage `cbor:"1,keyasint"`
	Message Message              `cbor:"2,keyasint"`
}

// Envelope is the wire unit.
type Envelope struct {
	Version   uint8          `cbor:"1,keyasint"`
	Kind      Kind           `cbor:"2,keyasint"`
	Handshake *HandshakeInit `cbor:"3,keyasint,omitempty"`
	Message   *Message       `cbor:"4,keyasint,omitempty"`
}

// NewMessage wraps a ratchet message.
func NewMessage(m ratchet.Message) Envelope {
	msg := FromRatchet(m)
	return Envelope{Version: Version, Kind: KindMessage, Message: &msg}
}

// NewHandshake wraps the handshake parameters and the first message.
func NewHandshake(pk domain.PreKeyMessage, m ratchet.Message) Envelope {
	return Envelope{
		Version:   Version,
		Kind:      KindHandshake,
		Handshake: &HandshakeInit{PreKey: pk, Message: FromRatchet(m)},
	}
}

// FromRatchet converts a ratchet message to its wire form.
func FromRatchet(m ratchet.Message) Message {
	return Message{
		Header:     Header{DHPub: m.Header.DHPub, PN: m.Header.PN, N: m.Header.N},
		Ciphertext: m.Ciphertext,
		AuthTag:    m.AuthTag,
	}
}

// Ratchet converts m back for ratchet.Session.Decrypt.
func (m Message) Ratchet() ratchet.Message {
	return ratchet.Message{
		Header:     ratchet.Header{DHPub: m.Header.DHPub, PN: m.Header.PN, N: m.Header.N},
		Ciphertext: m.Ciphertext,
		AuthTag:    m.AuthTag,
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}).DecMode(); err != nil {
		panic(err)
	}
}

// Encode validates env and returns its wire bytes.
func Encode(env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return encMode.Marshal(env)
}

// Decode parses and validates wire bytes.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks the version and that exactly the payload named by Kind
// is present.
func (e Envelope) Validate() error {
	if e.Version != Version {
		return fmt.Errorf("%w: version %d", ErrMalformed, e.Version)
	}
	switch e.Kind {
	case KindMessage:
		if e.Message == nil || e.Handshake != nil {
			return fmt.Errorf("%w: message envelope payload mismatch", ErrMalformed)
		}
		return e.Message.validate()
	case KindHandshake:
		if e.Handshake == nil || e.Message != nil {
			return fmt.Errorf("%w: handshake envelope payload mismatch", ErrMalformed)
		}
		pk := e.Handshake.PreKey
		if pk.InitiatorIdentityKey.IsZero() || pk.EphemeralKey.IsZero() || pk.SignedPreKeyID == "" {
			return fmt.Errorf("%w: handshake lacks identity, ephemeral key or signed pre-key id", ErrMalformed)
		}
		return e.Handshake.Message.validate()
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(e.Kind))
	}
}

func (m Message) validate() error {
	if m.Header.DHPub.IsZero() {
		return fmt.Errorf("%w: missing ratchet key", ErrMalformed)
	}
	if len(m.AuthTag) != crypto.TagSize {
		return fmt.Errorf("%w: tag length %d", ErrMalformed, len(m.AuthTag))
	}
	return nil
}
