package stream_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/stream"
)

func TestSerializeRGBCamera(t *testing.T) {
	pool := buf.NewPool()
	img := stream.RawImage{Width: 2, Height: 1, Pixels: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	b, err := stream.DefaultRegistry().Serialize("camera.rgb", pool, img)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	defer b.Release()
	data := b.Data()
	if binary.LittleEndian.Uint32(data[0:4]) != 2 || binary.LittleEndian.Uint32(data[4:8]) != 1 {
		t.Fatalf("unexpected header: %v", data[:8])
	}
	if string(data[8:]) != string(img.Pixels) {
		t.Fatalf("pixel payload mismatch")
	}
}

func TestSerializeOpticalFlowAffineDecode(t *testing.T) {
	field := stream.DecodeOpticalFlowRaw16(1, 1, []uint16{math.MaxUint16, 0})
	// raw=1.0 -> (1-0.5)*4 = 2; raw=0 -> (0-0.5)*4 = -2
	if math.Abs(float64(field.Flow[0])-2) > 1e-3 {
		t.Fatalf("expected vx ~2, got %v", field.Flow[0])
	}
	if math.Abs(float64(field.Flow[1])+2) > 1e-3 {
		t.Fatalf("expected vy ~-2, got %v", field.Flow[1])
	}

	pool := buf.NewPool()
	b, err := stream.DefaultRegistry().Serialize("camera.optical_flow", pool, field)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	defer b.Release()
	if b.Size() != 8+4*2 {
		t.Fatalf("unexpected size %d", b.Size())
	}
}

func TestDecodeInstanceSegmentationRGBA(t *testing.T) {
	rgba := []byte{
		7, 0x34, 0x12, 0xff, // label 7, instance 0x1234
		9, 0xff, 0x00, 0xff, // label 9, instance 0x00ff
	}
	f := stream.DecodeInstanceSegmentationRGBA(2, 1, rgba)
	if f.Labels[0] != 7 || f.InstanceIDs[0] != 0x1234 {
		t.Fatalf("pixel 0 mismatch: %+v", f)
	}
	if f.Labels[1] != 9 || f.InstanceIDs[1] != 0x00ff {
		t.Fatalf("pixel 1 mismatch: %+v", f)
	}

	pool := buf.NewPool()
	b, err := stream.DefaultRegistry().Serialize("camera.instance_segmentation", pool, f)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	defer b.Release()
	if b.Size() != 8+2*3 {
		t.Fatalf("unexpected size %d", b.Size())
	}
}

func TestSerializeDVSEventsSortedByTimestamp(t *testing.T) {
	events := []stream.DVSEvent{
		{X: 1, Y: 1, Timestamp: 300, Polarity: true},
		{X: 2, Y: 2, Timestamp: 100, Polarity: false},
		{X: 3, Y: 3, Timestamp: 200, Polarity: true},
	}
	pool := buf.NewPool()
	b, err := stream.DefaultRegistry().Serialize("camera.dvs", pool, events)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	defer b.Release()

	data := b.Data()
	count := binary.LittleEndian.Uint32(data[0:4])
	if count != 3 {
		t.Fatalf("expected 3 events, got %d", count)
	}
	var prev int64
	off := 4
	for i := 0; i < int(count); i++ {
		ts := int64(binary.LittleEndian.Uint64(data[off+4 : off+12]))
		if ts < prev {
			t.Fatalf("events not sorted by timestamp: %d before %d", ts, prev)
		}
		prev = ts
		off += 13
	}
}

func TestDVSLimiterEnforcesRefractoryPeriod(t *testing.T) {
	lim := stream.NewDVSLimiter(50 * time.Millisecond)
	if !lim.Allow(1, 1) {
		t.Fatal("expected first event at a pixel to be allowed")
	}
	if lim.Allow(1, 1) {
		t.Fatal("expected second event within the refractory period to be dropped")
	}
	if !lim.Allow(2, 2) {
		t.Fatal("expected a different pixel to be unaffected by another pixel's limiter")
	}
	time.Sleep(60 * time.Millisecond)
	if !lim.Allow(1, 1) {
		t.Fatal("expected event to be allowed again after the refractory period elapses")
	}
}

func TestSerializeOpaquePassesBytesThrough(t *testing.T) {
	pool := buf.NewPool()
	b, err := stream.DefaultRegistry().Serialize("lidar.ray_cast", pool, []byte("points"))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	defer b.Release()
	if string(b.Data()) != "points" {
		t.Fatalf("expected passthrough payload, got %q", b.Data())
	}
}
