package gsb

// ResponseChunk is one frame of a streaming response. A Part carries
// an intermediate item; a Full carries either the single reply to a
// unary call or the terminal chunk of a stream. A Full with no data is
// the explicit end-of-stream sentinel — callers must consult IsEOS
// only in streaming contexts; a unary call surfaces an empty Full as a
// literal empty byte response instead (see Router.Forward).
type ResponseChunk struct {
	Part bool
	Data []byte
}

// PartChunk wraps an intermediate streaming item.
func PartChunk(data []byte) ResponseChunk { return ResponseChunk{Part: true, Data: data} }

// FullChunk wraps a terminal (or unary) reply.
func FullChunk(data []byte) ResponseChunk { return ResponseChunk{Part: false, Data: data} }

// eosChunk is the canonical terminal marker.
func eosChunk() ResponseChunk { return ResponseChunk{Part: false, Data: nil} }

// IsEOS reports whether c is the end-of-stream sentinel: a Full chunk
// carrying no data.
func (c ResponseChunk) IsEOS() bool {
	return !c.Part && len(c.Data) == 0
}

// IsFull reports whether c is a Full chunk (terminal or unary),
// irrespective of whether it is also the EOS sentinel.
func (c ResponseChunk) IsFull() bool {
	return !c.Part
}
