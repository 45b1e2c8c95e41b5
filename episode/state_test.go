package episode_test

import (
	"testing"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/episode"
)

func TestActorDynamicStateSizeIs119(t *testing.T) {
	if episode.ActorDynamicStateSize != 119 {
		t.Fatalf("expected 119, got %d", episode.ActorDynamicStateSize)
	}
}

func TestEpisodeSnapshotRoundTrip(t *testing.T) {
	pool := buf.NewPool()

	vehicle := episode.ActorDynamicState{
		ID:        1,
		State:     episode.ActorStateActive,
		Transform: episode.Transform{Location: episode.Vector3{X: 1, Y: 2, Z: 3}},
	}
	vehicle.SetVehicleData(episode.VehicleData{SpeedLimit: 30, TrafficLightState: episode.TrafficLightGreen})

	walker := episode.ActorDynamicState{
		ID:        2,
		State:     episode.ActorStateActive,
		Transform: episode.Transform{Location: episode.Vector3{X: 4, Y: 5, Z: 6}},
	}
	walker.SetWalkerControl(episode.WalkerControl{Speed: 1.5})

	light := episode.ActorDynamicState{
		ID:        3,
		State:     episode.ActorStateActive,
		Transform: episode.Transform{Location: episode.Vector3{X: 7, Y: 8, Z: 9}},
	}
	light.SetTrafficLightData(episode.TrafficLightData{State: episode.TrafficLightRed})

	s := &episode.State{
		EpisodeID:    42,
		DeltaSeconds: 0.05,
		Actors:       []episode.ActorDynamicState{vehicle, walker, light},
	}

	b := s.Serialize(pool)
	defer b.Release()

	if b.Size() != episode.HeaderSize+3*episode.ActorDynamicStateSize {
		t.Fatalf("unexpected serialized size %d", b.Size())
	}

	got, err := episode.Deserialize(b.Data())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.EpisodeID != 42 || got.DeltaSeconds != 0.05 {
		t.Fatalf("header mismatch: %+v", got)
	}
	if len(got.Actors) != 3 {
		t.Fatalf("expected 3 actors, got %d", len(got.Actors))
	}
	if got.Actors[0].Transform.Location != (episode.Vector3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("actor 1 location mismatch: %+v", got.Actors[0].Transform.Location)
	}
	if got.Actors[1].Transform.Location != (episode.Vector3{X: 4, Y: 5, Z: 6}) {
		t.Fatalf("actor 2 location mismatch: %+v", got.Actors[1].Transform.Location)
	}
	if got.Actors[2].TrafficLightData().State != episode.TrafficLightRed {
		t.Fatalf("expected actor 3 to be a red traffic light, got %+v", got.Actors[2].TrafficLightData())
	}
}

func TestActorAtRandomAccess(t *testing.T) {
	pool := buf.NewPool()
	s := &episode.State{
		Actors: []episode.ActorDynamicState{
			{ID: 10}, {ID: 11}, {ID: 12},
		},
	}
	b := s.Serialize(pool)
	defer b.Release()

	a, err := episode.ActorAt(b.Data(), 2)
	if err != nil {
		t.Fatalf("ActorAt: %v", err)
	}
	if a.ID != 12 {
		t.Fatalf("expected actor ID 12, got %d", a.ID)
	}

	if _, err := episode.ActorAt(b.Data(), 3); err == nil {
		t.Fatal("expected out-of-range error")
	}
}
