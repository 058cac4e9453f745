package gsb

import (
	"context"
	"fmt"
)

// Bounded channel defaults: 16 chunks for streaming, 1 for a unary
// reply forced through the streaming interface.
const (
	streamChunkBuffer = 16
	unaryChunkBuffer  = 1
)

// slot is the type-erased adapter every bound handler is reduced to.
// Router.Forward/StreamingForward attempt a same-type assertion
// against the concrete generic slot types below before falling back to
// send/callStream; see router.go.
type slot interface {
	send(ctx context.Context, call RawCall) ([]byte, error)
	callStream(ctx context.Context, call RawCall) <-chan chunkResult
}

// unarySlot adapts a typed UnaryHandler.
type unarySlot[Req RpcMessage, Item any, Err any] struct {
	handler UnaryHandler[Req, Item, Err]
	ser     Serializer
}

func (s *unarySlot[Req, Item, Err]) send(ctx context.Context, call RawCall) ([]byte, error) {
	var req Req
	if err := s.ser.Unmarshal(call.Body, &req); err != nil {
		return nil, err
	}
	result := s.handler(ctx, call.Caller, req)
	return s.ser.Marshal(result)
}

func (s *unarySlot[Req, Item, Err]) callStream(ctx context.Context, call RawCall) <-chan chunkResult {
	out := make(chan chunkResult, unaryChunkBuffer)
	go func() {
		defer close(out)
		b, err := s.send(ctx, call)
		if err != nil {
			out <- chunkResult{err: err}
			return
		}
		out <- chunkResult{chunk: FullChunk(b)}
	}()
	return out
}

// streamSlot adapts a typed StreamHandler.
type streamSlot[Req RpcMessage, Item any, Err any] struct {
	handler StreamHandler[Req, Item, Err]
	ser     Serializer
}

func (s *streamSlot[Req, Item, Err]) send(_ context.Context, call RawCall) ([]byte, error) {
	return nil, gsbBadRequest(fmt.Sprintf("non-streaming request on streaming endpoint: %s", call.Addr))
}

func (s *streamSlot[Req, Item, Err]) callStream(ctx context.Context, call RawCall) <-chan chunkResult {
	out := make(chan chunkResult, streamChunkBuffer)

	var req Req
	if err := s.ser.Unmarshal(call.Body, &req); err != nil {
		go func() {
			defer close(out)
			out <- chunkResult{err: err}
		}()
		return out
	}

	go func() {
		defer close(out)

		items := make(chan Result[Item, Err], streamChunkBuffer)
		done := make(chan error, 1)
		go func() {
			defer close(items)
			done <- s.handler(ctx, call.Caller, req, items)
		}()

		for item := range items {
			b, err := s.ser.Marshal(item)
			if err != nil {
				out <- chunkResult{err: err}
				continue
			}
			out <- chunkResult{chunk: PartChunk(b)}
		}

		if err := <-done; err != nil {
			out <- chunkResult{err: err}
			return
		}
		out <- chunkResult{chunk: eosChunk()}
	}()

	return out
}

// rawUnarySlot adapts a RawUnaryHandler.
type rawUnarySlot struct {
	handler RawUnaryHandler
}

func (s *rawUnarySlot) send(ctx context.Context, call RawCall) ([]byte, error) {
	return s.handler(ctx, call)
}

func (s *rawUnarySlot) callStream(ctx context.Context, call RawCall) <-chan chunkResult {
	out := make(chan chunkResult, unaryChunkBuffer)
	go func() {
		defer close(out)
		b, err := s.handler(ctx, call)
		if err != nil {
			out <- chunkResult{err: err}
			return
		}
		out <- chunkResult{chunk: FullChunk(b)}
	}()
	return out
}

// rawStreamSlot adapts a RawStreamHandler.
type rawStreamSlot struct {
	handler RawStreamHandler
}

func (s *rawStreamSlot) send(ctx context.Context, call RawCall) ([]byte, error) {
	out := make(chan chunkResult, streamChunkBuffer)
	go func() {
		defer close(out)
		if err := s.handler(ctx, call, out); err != nil {
			out <- chunkResult{err: err}
		}
	}()

	first, ok := <-out
	if !ok {
		return nil, gsbBadRequest("unexpected EOS")
	}
	if first.err != nil {
		return nil, first.err
	}
	if first.chunk.Part {
		return nil, gsbBadRequest("partial response")
	}
	return first.chunk.Data, nil
}

func (s *rawStreamSlot) callStream(ctx context.Context, call RawCall) <-chan chunkResult {
	out := make(chan chunkResult, streamChunkBuffer)
	go func() {
		defer close(out)
		if err := s.handler(ctx, call, out); err != nil {
			out <- chunkResult{err: err}
		}
	}()
	return out
}

// dualRawSlot pairs a raw unary and a raw streaming recipient bound at
// one address: send delegates to the unary side, callStream to the
// streaming side.
type dualRawSlot struct {
	rpc    *rawUnarySlot
	stream *rawStreamSlot
}

func (s *dualRawSlot) send(ctx context.Context, call RawCall) ([]byte, error) {
	return s.rpc.send(ctx, call)
}

func (s *dualRawSlot) callStream(ctx context.Context, call RawCall) <-chan chunkResult {
	return s.stream.callStream(ctx, call)
}
