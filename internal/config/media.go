package config

import "github.com/dkeye/meet/internal/domain"

const (
	DefaultWidth     = 1280
	DefaultHeight    = 720
	DefaultFrameRate = 30

	screenWidth     = 1920
	screenHeight    = 1080
	screenFrameRate = 15
)

type MediaConfig struct {
	Width            int    `mapstructure:"width"`
	Height           int    `mapstructure:"height"`
	FrameRate        int    `mapstructure:"frame_rate"`
	EchoCancellation bool   `mapstructure:"echo_cancellation"`
	NoiseSuppression bool   `mapstructure:"noise_suppression"`
	AutoGainControl  bool   `mapstructure:"auto_gain_control"`
	VideoFile        string `mapstructure:"video_file"`
	AudioFile        string `mapstructure:"audio_file"`
	ScreenFile       string `mapstructure:"screen_file"`
}

// MediaConstraints returns the capture constraints for kind. Zero values in
// the media config fall back to the defaults.
func (c *Config) MediaConstraints(kind domain.CaptureKind) domain.MediaConstraints {
	if kind == domain.CaptureScreen {
		return domain.MediaConstraints{
			Kind: domain.CaptureScreen,
			Video: domain.VideoConstraints{
				Enabled:     true,
				IdealWidth:  screenWidth,
				IdealHeight: screenHeight,
				FrameRate:   screenFrameRate,
			},
		}
	}

	m := c.Media
	return domain.MediaConstraints{
		Kind: domain.CaptureCamera,
		Video: domain.VideoConstraints{
			Enabled:     true,
			IdealWidth:  orDefault(m.Width, DefaultWidth),
			IdealHeight: orDefault(m.Height, DefaultHeight),
			FrameRate:   orDefault(m.FrameRate, DefaultFrameRate),
		},
		Audio: domain.AudioConstraints{
			Enabled:          true,
			EchoCancellation: m.EchoCancellation,
			NoiseSuppression: m.NoiseSuppression,
			AutoGainControl:  m.AutoGainControl,
		},
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
