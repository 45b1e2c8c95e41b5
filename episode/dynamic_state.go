package episode

import "encoding/binary"

// ActorDynamicStateSize is the fixed wire stride of one ActorDynamicState
// record. Load-bearing: a client treats an EpisodeState payload's actor
// array as addressable by index, stride ActorDynamicStateSize.
const ActorDynamicStateSize = 4 + 1 + transformSize + 3*vector3Size + typeStateSize

const typeStateSize = trafficLightDataSize // 54: the union's widest member

// ActorDynamicState is one actor's per-tick snapshot: identity, lifecycle
// state, pose, velocities, and a type-dependent union disambiguated
// externally by the actor's class (the record itself carries no
// discriminant, matching the original union's layout).
type ActorDynamicState struct {
	ID              ActorID
	State           ActorState
	Transform       Transform
	Velocity        Vector3
	AngularVelocity Vector3
	Acceleration    Vector3
	typeState       [typeStateSize]byte
}

// SetVehicleData encodes v into the type-dependent union region.
func (a *ActorDynamicState) SetVehicleData(v VehicleData) { v.encode(a.typeState[:vehicleDataSize]) }

// VehicleData decodes the union region as VehicleData; caller must know
// (from the actor registry) that this actor is a vehicle.
func (a *ActorDynamicState) VehicleData() VehicleData {
	return decodeVehicleData(a.typeState[:vehicleDataSize])
}

// SetWalkerControl encodes w into the type-dependent union region.
func (a *ActorDynamicState) SetWalkerControl(w WalkerControl) {
	w.encode(a.typeState[:walkerControlSize])
}

func (a *ActorDynamicState) WalkerControl() WalkerControl {
	return decodeWalkerControl(a.typeState[:walkerControlSize])
}

// SetTrafficLightData encodes t into the type-dependent union region.
func (a *ActorDynamicState) SetTrafficLightData(t TrafficLightData) {
	t.encode(a.typeState[:trafficLightDataSize])
}

func (a *ActorDynamicState) TrafficLightData() TrafficLightData {
	return decodeTrafficLightData(a.typeState[:trafficLightDataSize])
}

// SetTrafficSignData encodes t into the type-dependent union region.
func (a *ActorDynamicState) SetTrafficSignData(t TrafficSignData) {
	t.encode(a.typeState[:signIDLen])
}

func (a *ActorDynamicState) TrafficSignData() TrafficSignData {
	return decodeTrafficSignData(a.typeState[:signIDLen])
}

// Encode writes the 119-byte wire representation of a into dst.
func (a *ActorDynamicState) Encode(dst []byte) {
	_ = dst[:ActorDynamicStateSize]
	binary.LittleEndian.PutUint32(dst[0:4], uint32(a.ID))
	dst[4] = byte(a.State)
	a.Transform.encode(dst[5:29])
	a.Velocity.encode(dst[29:41])
	a.AngularVelocity.encode(dst[41:53])
	a.Acceleration.encode(dst[53:65])
	copy(dst[65:119], a.typeState[:])
}

// DecodeActorDynamicState parses a 119-byte wire ActorDynamicState.
func DecodeActorDynamicState(src []byte) ActorDynamicState {
	_ = src[:ActorDynamicStateSize]
	var a ActorDynamicState
	a.ID = ActorID(binary.LittleEndian.Uint32(src[0:4]))
	a.State = ActorState(src[4])
	a.Transform = decodeTransform(src[5:29])
	a.Velocity = decodeVector3(src[29:41])
	a.AngularVelocity = decodeVector3(src[41:53])
	a.Acceleration = decodeVector3(src[53:65])
	copy(a.typeState[:], src[65:119])
	return a
}
