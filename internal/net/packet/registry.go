package packet

import (
	"fmt"

	"go.uber.org/zap"
)

// SignonStage tracks how far a connection has progressed through the
// level handshake.
type SignonStage int

const (
	StageNeedPrespawn SignonStage = iota // serverinfo sent, waiting for "prespawn"
	StageSendingSignonBuffers            // copying level signon buffers
	StageSendingSignonMarker             // signon buffers copied, marker pending
	StageFlushing                        // marker queued, waiting for a clean send
	StageDone                            // handshake data delivered
)

func (s SignonStage) String() string {
	switch s {
	case StageNeedPrespawn:
		return "NeedPrespawn"
	case StageSendingSignonBuffers:
		return "SendingSignonBuffers"
	case StageSendingSignonMarker:
		return "SendingSignonMarker"
	case StageFlushing:
		return "Flushing"
	case StageDone:
		return "Done"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// AllStages is a convenience for commands accepted at any point.
var AllStages = []SignonStage{
	StageNeedPrespawn, StageSendingSignonBuffers, StageSendingSignonMarker, StageFlushing, StageDone,
}

// HandlerFunc consumes one client command's operands from r.
// The client is passed as an opaque value to avoid an import cycle.
type HandlerFunc func(client any, r *Reader)

type handlerEntry struct {
	fn            HandlerFunc
	skip          HandlerFunc
	allowedStages map[SignonStage]bool
}

// Registry maps client opcodes to handlers gated by signon stage.
type Registry struct {
	handlers map[byte]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[byte]*handlerEntry),
		log:      log,
	}
}

// Register maps an opcode to a handler, restricted to the given stages.
func (reg *Registry) Register(opcode byte, stages []SignonStage, fn HandlerFunc) {
	allowed := make(map[SignonStage]bool, len(stages))
	for _, s := range stages {
		allowed[s] = true
	}
	reg.handlers[opcode] = &handlerEntry{fn: fn, allowedStages: allowed}
}

// RegisterSkippable is Register for commands that are ignored rather than
// rejected outside their stages. skip must consume the same operands as fn.
func (reg *Registry) RegisterSkippable(opcode byte, stages []SignonStage, fn, skip HandlerFunc) {
	reg.Register(opcode, stages, fn)
	reg.handlers[opcode].skip = skip
}

// Dispatch runs every command packed into one client message. Parsing stops
// at the first unknown or disallowed opcode, or on a short read, because the
// rest of the message can no longer be framed. Skippable commands outside
// their stages are parsed and discarded.
func (reg *Registry) Dispatch(client any, stage func() SignonStage, data []byte) error {
	r := NewReader(data)
	for r.Remaining() > 0 {
		opcode := byte(r.GetByte())
		entry, ok := reg.handlers[opcode]
		if !ok {
			return fmt.Errorf("unknown client opcode %d", opcode)
		}
		st := stage()
		fn := entry.fn
		switch {
		case entry.allowedStages[st]:
		case entry.skip != nil:
			reg.log.Debug("client command skipped in stage",
				zap.Uint8("opcode", opcode),
				zap.String("stage", st.String()),
			)
			fn = entry.skip
		default:
			reg.log.Warn("client command not allowed in stage",
				zap.Uint8("opcode", opcode),
				zap.String("stage", st.String()),
			)
			return fmt.Errorf("opcode %d not allowed in stage %s", opcode, st)
		}
		if err := reg.safeCall(fn, client, r, opcode); err != nil {
			return err
		}
		if err := r.Err(); err != nil {
			return fmt.Errorf("opcode %d: %w", opcode, err)
		}
	}
	return nil
}

// safeCall keeps one malformed message from taking down the frame loop.
func (reg *Registry) safeCall(fn HandlerFunc, client any, r *Reader, opcode byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("client command handler panic recovered",
				zap.Uint8("opcode", opcode),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for opcode %d: %v", opcode, rec)
		}
	}()
	fn(client, r)
	return nil
}
