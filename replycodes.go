package gsb

import "github.com/howard-nolan/gsb/gsbproto"

// Reply-code decoding is strict: each frame family has a closed set of
// valid codes; anything else is a protocol violation that stops the
// connection. The waiter the reply answers receives the protocol error
// first; every other pending waiter is then failed with Cancelled.

func decodeRegisterReply(code int) error {
	switch code {
	case gsbproto.CodeOk:
		return nil
	case gsbproto.CodeBadRequest:
		return gsbBadRequest("register: bad request")
	case gsbproto.CodeConflict:
		return gsbAlreadyRegistered("register: already registered")
	default:
		return protocolErr("register: unknown reply code", gsbproto.ErrUnknownCode{Family: "register", Code: code})
	}
}

func decodeUnregisterReply(code int) error {
	switch code {
	case gsbproto.CodeOk:
		return nil
	case gsbproto.CodeNotFound:
		return gsbBadRequest("unregister: not registered")
	default:
		return protocolErr("unregister: unknown reply code", gsbproto.ErrUnknownCode{Family: "unregister", Code: code})
	}
}

func decodeSubscribeReply(code int) error {
	switch code {
	case gsbproto.CodeOk:
		return nil
	case gsbproto.CodeBadRequest:
		return gsbBadRequest("subscribe: bad request")
	default:
		return protocolErr("subscribe: unknown reply code", gsbproto.ErrUnknownCode{Family: "subscribe", Code: code})
	}
}

func decodeUnsubscribeReply(code int) error {
	switch code {
	case gsbproto.CodeOk:
		return nil
	case gsbproto.CodeNotFound:
		return gsbBadRequest("unsubscribe: not subscribed")
	default:
		return protocolErr("unsubscribe: unknown reply code", gsbproto.ErrUnknownCode{Family: "unsubscribe", Code: code})
	}
}

func decodeBroadcastReply(code int) error {
	switch code {
	case gsbproto.CodeOk:
		return nil
	case gsbproto.CodeBadRequest:
		return gsbBadRequest("broadcast: bad request")
	default:
		return protocolErr("broadcast: unknown reply code", gsbproto.ErrUnknownCode{Family: "broadcast", Code: code})
	}
}

// decodeCallReplyChunk maps a CallReply's (code, reply_type, data)
// triple onto a ResponseChunk or an error.
func decodeCallReplyChunk(code int, rt gsbproto.ReplyType, data []byte) (ResponseChunk, error) {
	switch code {
	case gsbproto.CodeOk:
		if rt == gsbproto.ReplyPartial {
			return PartChunk(data), nil
		}
		return FullChunk(data), nil
	case gsbproto.CodeBadRequest:
		return ResponseChunk{}, gsbBadRequest("remote replied bad request")
	case gsbproto.CodeServiceFailure:
		return ResponseChunk{}, gsbFailure(string(data))
	default:
		return ResponseChunk{}, protocolErr("call reply: unknown code", gsbproto.ErrUnknownCode{Family: "call", Code: code})
	}
}
