package protocol

// Codec converts messages to and from websocket frame payloads.
//
// Implementations must be safe for concurrent use; the hub shares one codec
// across every socket.
type Codec interface {
	// Marshal encodes the message into a single frame payload.
	Marshal(Message) ([]byte, error)

	// Unmarshal decodes a frame payload into a message.
	Unmarshal([]byte) (Message, error)

	// Binary reports whether frames should be sent as websocket binary
	// messages rather than text.
	Binary() bool
}

// ForBinary returns the codec matching the deployment's wire format flag.
func ForBinary(binary bool) Codec {
	if binary {
		return BinaryCodec{}
	}
	return JSONCodec{}
}
