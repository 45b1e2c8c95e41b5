// Package episode implements the per-tick episode-state snapshot format
// (C7): a fixed EpisodeState header followed by an array of fixed-layout
// ActorDynamicState records. Every field is encoded explicitly via
// encoding/binary.LittleEndian rather than relying on in-memory struct
// layout, since Go has no #pragma pack equivalent — the wire size is
// load-bearing and pinned by the tests in this package.
package episode

import (
	"encoding/binary"
	"math"
)

func float32bits(f float32) uint32    { return math.Float32bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }

// ActorID mirrors the simulator's actor identifier.
type ActorID uint32

// ActorState is the lifecycle state of an actor within one tick's snapshot.
type ActorState uint8

const (
	ActorStateInvalid ActorState = iota
	ActorStateActive
	ActorStateDormant
	ActorStatePendingKill
)

// TrafficLightState mirrors a traffic light's current phase.
type TrafficLightState uint8

const (
	TrafficLightRed TrafficLightState = iota
	TrafficLightYellow
	TrafficLightGreen
	TrafficLightOff
	TrafficLightUnknown
)

// VehicleFailureState reports a simulated vehicle malfunction, if any.
type VehicleFailureState uint8

const (
	VehicleFailureNone VehicleFailureState = iota
	VehicleFailureRollover
	VehicleFailureEngine
	VehicleFailureTirePuncture
)

// Vector3 is a packed 3-float32 vector: 12 bytes on the wire.
type Vector3 struct{ X, Y, Z float32 }

const vector3Size = 12

func (v Vector3) encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], float32bits(v.X))
	binary.LittleEndian.PutUint32(dst[4:8], float32bits(v.Y))
	binary.LittleEndian.PutUint32(dst[8:12], float32bits(v.Z))
}

func decodeVector3(src []byte) Vector3 {
	return Vector3{
		X: float32frombits(binary.LittleEndian.Uint32(src[0:4])),
		Y: float32frombits(binary.LittleEndian.Uint32(src[4:8])),
		Z: float32frombits(binary.LittleEndian.Uint32(src[8:12])),
	}
}

// Transform is location (xyz) followed by rotation (pitch, yaw, roll),
// 24 bytes total.
type Transform struct {
	Location Vector3
	Rotation Vector3
}

const transformSize = 2 * vector3Size

func (t Transform) encode(dst []byte) {
	t.Location.encode(dst[0:12])
	t.Rotation.encode(dst[12:24])
}

func decodeTransform(src []byte) Transform {
	return Transform{Location: decodeVector3(src[0:12]), Rotation: decodeVector3(src[12:24])}
}

// VehicleControl is the packed driving input snapshot, 19 bytes on the wire.
type VehicleControl struct {
	Throttle, Steer, Brake          float32
	HandBrake, Reverse              bool
	ManualGearShift                 bool
	Gear                            int32
}

const vehicleControlSize = 4 + 4 + 4 + 1 + 1 + 1 + 4 // 19

func (c VehicleControl) encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], float32bits(c.Throttle))
	binary.LittleEndian.PutUint32(dst[4:8], float32bits(c.Steer))
	binary.LittleEndian.PutUint32(dst[8:12], float32bits(c.Brake))
	dst[12] = boolByte(c.HandBrake)
	dst[13] = boolByte(c.Reverse)
	dst[14] = boolByte(c.ManualGearShift)
	binary.LittleEndian.PutUint32(dst[15:19], uint32(c.Gear))
}

func decodeVehicleControl(src []byte) VehicleControl {
	return VehicleControl{
		Throttle:        float32frombits(binary.LittleEndian.Uint32(src[0:4])),
		Steer:           float32frombits(binary.LittleEndian.Uint32(src[4:8])),
		Brake:           float32frombits(binary.LittleEndian.Uint32(src[8:12])),
		HandBrake:       src[12] != 0,
		Reverse:         src[13] != 0,
		ManualGearShift: src[14] != 0,
		Gear:            int32(binary.LittleEndian.Uint32(src[15:19])),
	}
}

// VehicleData is the vehicle-class union member, 30 bytes on the wire.
type VehicleData struct {
	Control           VehicleControl
	SpeedLimit        float32
	TrafficLightState TrafficLightState
	HasTrafficLight   bool
	TrafficLightID    ActorID
	FailureState      VehicleFailureState
}

const vehicleDataSize = vehicleControlSize + 4 + 1 + 1 + 4 + 1 // 30

func (v VehicleData) encode(dst []byte) {
	v.Control.encode(dst[0:19])
	binary.LittleEndian.PutUint32(dst[19:23], float32bits(v.SpeedLimit))
	dst[23] = byte(v.TrafficLightState)
	dst[24] = boolByte(v.HasTrafficLight)
	binary.LittleEndian.PutUint32(dst[25:29], uint32(v.TrafficLightID))
	dst[29] = byte(v.FailureState)
}

func decodeVehicleData(src []byte) VehicleData {
	return VehicleData{
		Control:           decodeVehicleControl(src[0:19]),
		SpeedLimit:        float32frombits(binary.LittleEndian.Uint32(src[19:23])),
		TrafficLightState: TrafficLightState(src[23]),
		HasTrafficLight:   src[24] != 0,
		TrafficLightID:    ActorID(binary.LittleEndian.Uint32(src[25:29])),
		FailureState:      VehicleFailureState(src[29]),
	}
}

// WalkerControl is the walker-class union member, 17 bytes on the wire.
type WalkerControl struct {
	Direction Vector3
	Speed     float32
	Jump      bool
}

const walkerControlSize = vector3Size + 4 + 1 // 17

func (w WalkerControl) encode(dst []byte) {
	w.Direction.encode(dst[0:12])
	binary.LittleEndian.PutUint32(dst[12:16], float32bits(w.Speed))
	dst[16] = boolByte(w.Jump)
}

func decodeWalkerControl(src []byte) WalkerControl {
	return WalkerControl{
		Direction: decodeVector3(src[0:12]),
		Speed:     float32frombits(binary.LittleEndian.Uint32(src[12:16])),
		Jump:      src[16] != 0,
	}
}

const signIDLen = 32

// TrafficLightData is the traffic-light-class union member, 54 bytes on the
// wire — the size that fixes the union's width.
type TrafficLightData struct {
	SignID       [signIDLen]byte
	GreenTime    float32
	YellowTime   float32
	RedTime      float32
	ElapsedTime  float32
	PoleIndex    uint32
	TimeIsFrozen bool
	State        TrafficLightState
}

const trafficLightDataSize = signIDLen + 4 + 4 + 4 + 4 + 4 + 1 + 1 // 54

func (t TrafficLightData) encode(dst []byte) {
	copy(dst[0:32], t.SignID[:])
	binary.LittleEndian.PutUint32(dst[32:36], float32bits(t.GreenTime))
	binary.LittleEndian.PutUint32(dst[36:40], float32bits(t.YellowTime))
	binary.LittleEndian.PutUint32(dst[40:44], float32bits(t.RedTime))
	binary.LittleEndian.PutUint32(dst[44:48], float32bits(t.ElapsedTime))
	binary.LittleEndian.PutUint32(dst[48:52], t.PoleIndex)
	dst[52] = boolByte(t.TimeIsFrozen)
	dst[53] = byte(t.State)
}

func decodeTrafficLightData(src []byte) TrafficLightData {
	var t TrafficLightData
	copy(t.SignID[:], src[0:32])
	t.GreenTime = float32frombits(binary.LittleEndian.Uint32(src[32:36]))
	t.YellowTime = float32frombits(binary.LittleEndian.Uint32(src[36:40]))
	t.RedTime = float32frombits(binary.LittleEndian.Uint32(src[40:44]))
	t.ElapsedTime = float32frombits(binary.LittleEndian.Uint32(src[44:48]))
	t.PoleIndex = binary.LittleEndian.Uint32(src[48:52])
	t.TimeIsFrozen = src[52] != 0
	t.State = TrafficLightState(src[53])
	return t
}

// TrafficSignData is the traffic-sign-class union member, 32 bytes on the
// wire (padded to the union's 54-byte width).
type TrafficSignData struct {
	SignID [signIDLen]byte
}

func (t TrafficSignData) encode(dst []byte) { copy(dst[0:32], t.SignID[:]) }

func decodeTrafficSignData(src []byte) TrafficSignData {
	var t TrafficSignData
	copy(t.SignID[:], src[0:32])
	return t
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
