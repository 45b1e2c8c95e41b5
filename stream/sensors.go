package stream

import (
	"encoding/binary"
	"math"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/cmn/cos"
)

// RawImage is the raw per-pixel payload a rendering backend hands to a
// camera-family serializer: width/height plus one sample per pixel in the
// sensor's native channel layout.
type RawImage struct {
	Width, Height uint32
	Pixels        []byte
}

// imageHeaderSize is the width/height prefix every camera payload carries.
const imageHeaderSize = 8

func encodeImageHeader(dst []byte, width, height uint32) {
	binary.LittleEndian.PutUint32(dst[0:4], width)
	binary.LittleEndian.PutUint32(dst[4:8], height)
}

// serializeRGBCamera writes a BGRA8 framebuffer as width/height header +
// raw pixels, the layout spec.md §6 calls SEND_FRAME's default payload.
func serializeRGBCamera(pool *buf.Pool, raw any) (*buf.Buffer, error) {
	img, ok := raw.(RawImage)
	if !ok {
		return nil, cos.NewErrSerialization("camera.rgb: unexpected payload type", nil)
	}
	size := imageHeaderSize + len(img.Pixels)
	b := pool.Pop(size)
	b.Reset(size)
	data := b.Data()
	encodeImageHeader(data[:imageHeaderSize], img.Width, img.Height)
	copy(data[imageHeaderSize:], img.Pixels)
	return b, nil
}

// OpticalFlowField is a decoded per-pixel (vx, vy) field produced by a
// render backend from its native 16-bit-per-channel encoding.
type OpticalFlowField struct {
	Width, Height uint32
	Flow          []float32 // len == 2*Width*Height, (vx, vy) interleaved
}

// decodeOpticalFlowChannel applies the fixed affine decode spec.md §4.9
// names: v = (raw - 0.5) * 4, where raw is a channel sample normalized to
// [0, 1] from its 16-bit source.
func decodeOpticalFlowChannel(raw16 uint16) float32 {
	raw := float32(raw16) / float32(math.MaxUint16)
	return (raw - 0.5) * 4
}

// DecodeOpticalFlowRaw16 converts the render backend's native 16-bit-per-
// channel image into the (vx, vy) field serializeOpticalFlow expects.
func DecodeOpticalFlowRaw16(width, height uint32, raw16 []uint16) OpticalFlowField {
	flow := make([]float32, len(raw16))
	for i, v := range raw16 {
		flow[i] = decodeOpticalFlowChannel(v)
	}
	return OpticalFlowField{Width: width, Height: height, Flow: flow}
}

// serializeOpticalFlow writes width/height header + interleaved (vx, vy)
// float32 pairs, one per pixel.
func serializeOpticalFlow(pool *buf.Pool, raw any) (*buf.Buffer, error) {
	f, ok := raw.(OpticalFlowField)
	if !ok {
		return nil, cos.NewErrSerialization("camera.optical_flow: unexpected payload type", nil)
	}
	size := imageHeaderSize + 4*len(f.Flow)
	b := pool.Pop(size)
	b.Reset(size)
	data := b.Data()
	encodeImageHeader(data[:imageHeaderSize], f.Width, f.Height)
	off := imageHeaderSize
	for _, v := range f.Flow {
		binary.LittleEndian.PutUint32(data[off:off+4], math.Float32bits(v))
		off += 4
	}
	return b, nil
}

// InstanceSegmentationFrame is a decoded per-pixel (semantic label, actor
// instance id) field, per spec.md §4.9's RGBA-encoded source image: R is
// the semantic label, (G,B) the low 16 bits of the actor's unique id.
type InstanceSegmentationFrame struct {
	Width, Height uint32
	Labels        []byte   // one semantic label per pixel
	InstanceIDs   []uint16 // one actor id (low 16 bits) per pixel
}

// DecodeInstanceSegmentationRGBA unpacks a raw RGBA framebuffer per spec.md
// §4.9's channel assignment.
func DecodeInstanceSegmentationRGBA(width, height uint32, rgba []byte) InstanceSegmentationFrame {
	n := int(width) * int(height)
	f := InstanceSegmentationFrame{Width: width, Height: height, Labels: make([]byte, n), InstanceIDs: make([]uint16, n)}
	for i := 0; i < n; i++ {
		px := rgba[i*4 : i*4+4]
		f.Labels[i] = px[0]
		f.InstanceIDs[i] = uint16(px[1]) | uint16(px[2])<<8
	}
	return f
}

// serializeInstanceSegmentation writes width/height header + one
// (label byte, instance_id uint16) pair per pixel.
func serializeInstanceSegmentation(pool *buf.Pool, raw any) (*buf.Buffer, error) {
	f, ok := raw.(InstanceSegmentationFrame)
	if !ok {
		return nil, cos.NewErrSerialization("camera.instance_segmentation: unexpected payload type", nil)
	}
	n := len(f.Labels)
	size := imageHeaderSize + n*3
	b := pool.Pop(size)
	b.Reset(size)
	data := b.Data()
	encodeImageHeader(data[:imageHeaderSize], f.Width, f.Height)
	off := imageHeaderSize
	for i := 0; i < n; i++ {
		data[off] = f.Labels[i]
		binary.LittleEndian.PutUint16(data[off+1:off+3], f.InstanceIDs[i])
		off += 3
	}
	return b, nil
}

// DVSEvent is one per-pixel brightness-change event.
type DVSEvent struct {
	X, Y      uint16
	Timestamp int64 // nanoseconds
	Polarity  bool
}

const dvsEventSize = 2 + 2 + 8 + 1 // 13

// DVSLimiter enforces the refractory period between two events sharing a
// pixel, via one token-bucket limiter per pixel. A fresh limiter is handed
// to DVS sensors at construction; it outlives individual frames.
type DVSLimiter struct {
	period   time.Duration
	limiters map[uint32]*rate.Limiter
}

func NewDVSLimiter(refractoryPeriod time.Duration) *DVSLimiter {
	return &DVSLimiter{period: refractoryPeriod, limiters: make(map[uint32]*rate.Limiter)}
}

func pixelKey(x, y uint16) uint32 { return uint32(x)<<16 | uint32(y) }

// Allow reports whether an event at (x, y) may fire, consuming that
// pixel's refractory budget if so. One token per refractory period, i.e. a
// rate of 1/period with a burst of 1.
func (l *DVSLimiter) Allow(x, y uint16) bool {
	key := pixelKey(x, y)
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.period), 1)
		l.limiters[key] = lim
	}
	return lim.Allow()
}

// serializeDVSEvents writes a variable-length event list sorted by
// increasing timestamp, one dvsEventSize record per event, preceded by a
// uint32 event count. Raw must already be refractory-filtered (via
// DVSLimiter) by the caller producing the event list.
func serializeDVSEvents(pool *buf.Pool, raw any) (*buf.Buffer, error) {
	events, ok := raw.([]DVSEvent)
	if !ok {
		return nil, cos.NewErrSerialization("camera.dvs: unexpected payload type", nil)
	}
	sorted := make([]DVSEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	size := 4 + len(sorted)*dvsEventSize
	b := pool.Pop(size)
	b.Reset(size)
	data := b.Data()
	binary.LittleEndian.PutUint32(data[0:4], uint32(len(sorted)))
	off := 4
	for _, e := range sorted {
		binary.LittleEndian.PutUint16(data[off:off+2], e.X)
		binary.LittleEndian.PutUint16(data[off+2:off+4], e.Y)
		binary.LittleEndian.PutUint64(data[off+4:off+12], uint64(e.Timestamp))
		if e.Polarity {
			data[off+12] = 1
		} else {
			data[off+12] = 0
		}
		off += dvsEventSize
	}
	return b, nil
}

// serializeOpaque copies raw.([]byte) verbatim into a pooled Buffer,
// unchanged: used for sensors (LiDAR, ground-truth snapshots) whose caller
// already produced the final wire bytes (e.g. via episode.State.Serialize).
func serializeOpaque(pool *buf.Pool, raw any) (*buf.Buffer, error) {
	payload, ok := raw.([]byte)
	if !ok {
		return nil, cos.NewErrSerialization("opaque sensor: unexpected payload type", nil)
	}
	b := pool.Pop(len(payload))
	b.Reset(len(payload))
	copy(b.Data(), payload)
	return b, nil
}
