package types

// Inbound is an opaque envelope received from the transport.
type Inbound struct {
	ID        string `json:"id"`
	From      PeerID `json:"from"`
	To        PeerID `json:"to"`
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// DecryptedMessage is what MessageService.Receive returns.
type DecryptedMessage struct {
	From      PeerID `json:"from"`
	Plaintext []byte `json:"plaintext"`
	Timestamp int64  `json:"timestamp"`
}
