package episode

import (
	"encoding/binary"
	"math"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/cmn/cos"
)

// SimulationState is a bitfield of flags carried in the EpisodeState header.
type SimulationState uint32

const (
	MapChange          SimulationState = 1 << 0
	PendingLightUpdate  SimulationState = 1 << 1
)

// Vector3Int is a packed 3-int32 vector, used for the header's map origin.
type Vector3Int struct{ X, Y, Z int32 }

const vector3IntSize = 12

func (v Vector3Int) encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(v.X))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(v.Y))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(v.Z))
}

func decodeVector3Int(src []byte) Vector3Int {
	return Vector3Int{
		X: int32(binary.LittleEndian.Uint32(src[0:4])),
		Y: int32(binary.LittleEndian.Uint32(src[4:8])),
		Z: int32(binary.LittleEndian.Uint32(src[8:12])),
	}
}

// HeaderSize is the fixed size of the EpisodeState header that precedes the
// actor array in every snapshot.
const HeaderSize = 8 + 8 + 4 + vector3IntSize + 4 // 36

// State is one simulation tick's snapshot: the header followed by one
// ActorDynamicState per actor.
type State struct {
	EpisodeID         uint64
	PlatformTimestamp float64
	DeltaSeconds      float32
	MapOrigin         Vector3Int
	SimulationState   SimulationState
	Actors            []ActorDynamicState
}

// Size returns the total wire size of the snapshot: header plus
// len(Actors) * ActorDynamicStateSize.
func (s *State) Size() int { return HeaderSize + len(s.Actors)*ActorDynamicStateSize }

func (s *State) encodeHeader(dst []byte) {
	_ = dst[:HeaderSize]
	binary.LittleEndian.PutUint64(dst[0:8], s.EpisodeID)
	binary.LittleEndian.PutUint64(dst[8:16], math.Float64bits(s.PlatformTimestamp))
	binary.LittleEndian.PutUint32(dst[16:20], float32bits(s.DeltaSeconds))
	s.MapOrigin.encode(dst[20:32])
	binary.LittleEndian.PutUint32(dst[32:36], uint32(s.SimulationState))
}

func decodeHeader(src []byte) (hdr State) {
	_ = src[:HeaderSize]
	hdr.EpisodeID = binary.LittleEndian.Uint64(src[0:8])
	hdr.PlatformTimestamp = math.Float64frombits(binary.LittleEndian.Uint64(src[8:16]))
	hdr.DeltaSeconds = float32frombits(binary.LittleEndian.Uint32(src[16:20]))
	hdr.MapOrigin = decodeVector3Int(src[20:32])
	hdr.SimulationState = SimulationState(binary.LittleEndian.Uint32(src[32:36]))
	return hdr
}

// Serialize writes the snapshot into a Buffer popped from pool: the same
// path runs whether or not the deployment is multi-GPU, since the caller
// (not this package) decides whether the resulting buffer is handed to a
// local stream or broadcast via SEND_FRAME.
func (s *State) Serialize(pool *buf.Pool) *buf.Buffer {
	b := pool.Pop(s.Size())
	b.Reset(s.Size())
	data := b.Data()
	s.encodeHeader(data[:HeaderSize])
	for i, a := range s.Actors {
		off := HeaderSize + i*ActorDynamicStateSize
		a.Encode(data[off : off+ActorDynamicStateSize])
	}
	return b
}

// Deserialize parses a snapshot payload produced by Serialize. Access is
// random by actor index; ActorAt avoids decoding the whole array up front.
func Deserialize(payload []byte) (*State, error) {
	if len(payload) < HeaderSize {
		return nil, cos.NewErrSerialization("episode header", nil)
	}
	s := decodeHeader(payload[:HeaderSize])
	rest := payload[HeaderSize:]
	if len(rest)%ActorDynamicStateSize != 0 {
		return nil, cos.NewErrSerialization("actor array not a multiple of stride", nil)
	}
	n := len(rest) / ActorDynamicStateSize
	s.Actors = make([]ActorDynamicState, n)
	for i := 0; i < n; i++ {
		off := i * ActorDynamicStateSize
		s.Actors[i] = DecodeActorDynamicState(rest[off : off+ActorDynamicStateSize])
	}
	return &s, nil
}

// ActorAt decodes the N-th actor in a snapshot payload directly, without
// decoding the rest of the array — the random-access path called out in
// the component design.
func ActorAt(payload []byte, n int) (ActorDynamicState, error) {
	off := HeaderSize + n*ActorDynamicStateSize
	if off+ActorDynamicStateSize > len(payload) {
		return ActorDynamicState{}, cos.NewErrSerialization("actor index out of range", nil)
	}
	return DecodeActorDynamicState(payload[off : off+ActorDynamicStateSize]), nil
}
