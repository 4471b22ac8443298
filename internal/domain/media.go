package domain

// CaptureKind selects a constraint set.
type CaptureKind string

const (
	CaptureCamera CaptureKind = "camera"
	CaptureScreen CaptureKind = "screen"
)

type VideoConstraints struct {
	Enabled     bool `json:"enabled"`
	IdealWidth  int  `json:"idealWidth"`
	IdealHeight int  `json:"idealHeight"`
	FrameRate   int  `json:"frameRate"`
}

type AudioConstraints struct {
	Enabled          bool `json:"enabled"`
	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	AutoGainControl  bool `json:"autoGainControl"`
}

type MediaConstraints struct {
	Kind  CaptureKind      `json:"kind"`
	Video VideoConstraints `json:"video"`
	Audio AudioConstraints `json:"audio"`
}
