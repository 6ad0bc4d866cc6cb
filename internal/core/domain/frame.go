package domain

// ParamSets carries the codec configuration (H.264 SPS/PPS) that a decoder
// needs before it can consume keyframes.
type ParamSets struct {
	SPS [][]byte
	PPS [][]byte
}

func (p *ParamSets) Empty() bool {
	return p == nil || (len(p.SPS) == 0 && len(p.PPS) == 0)
}

// Frame is one encoded video frame in AVCC form (length-prefixed NAL units).
type Frame struct {
	Payload   []byte
	Keyframe  bool
	Width     int
	Height    int
	ParamSets *ParamSets // keyframes only
}

func (f Frame) Size() int {
	return len(f.Payload)
}
