package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	rtpMTU        = 1200
	opusClockRate = 48000
	vp8ClockRate  = 90000
)

var ErrSourceClosed = errors.New("source closed")

var (
	codecVP8  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: vp8ClockRate}
	codecOpus = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2}
)

// FileDevices plays IVF (VP8) and Ogg (Opus) files as if they were a camera,
// a microphone and a screen. Files loop at EOF. An empty path is a device
// that is not present.
type FileDevices struct {
	VideoFile  string
	AudioFile  string
	ScreenFile string
}

var _ core.Devices = FileDevices{}

func (d FileDevices) UserMedia(_ context.Context, c domain.MediaConstraints) ([]core.LocalSource, error) {
	var sources []core.LocalSource
	var errs []error
	if c.Video.Enabled && d.VideoFile != "" {
		src, err := openIVF(d.VideoFile, domain.KindVideo)
		if err != nil {
			errs = append(errs, err)
		} else {
			sources = append(sources, src)
		}
	}
	if c.Audio.Enabled && d.AudioFile != "" {
		src, err := openOgg(d.AudioFile)
		if err != nil {
			errs = append(errs, err)
		} else {
			sources = append(sources, src)
		}
	}
	if len(sources) == 0 {
		if len(errs) == 0 {
			return nil, core.ErrMediaDenied
		}
		return nil, fmt.Errorf("%w: %w", core.ErrMediaDenied, errors.Join(errs...))
	}
	return sources, nil
}

func (d FileDevices) DisplayMedia(_ context.Context, c domain.MediaConstraints) (core.LocalSource, error) {
	if !c.Video.Enabled || d.ScreenFile == "" {
		return nil, core.ErrMediaDenied
	}
	src, err := openIVF(d.ScreenFile, domain.KindScreen)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMediaDenied, err)
	}
	return src, nil
}

func (d FileDevices) CanShareScreen() bool {
	return d.ScreenFile != ""
}

// fileSource paces packets read from a container file in real time.
type fileSource struct {
	kind  domain.MediaKind
	codec webrtc.RTPCodecCapability
	path  string

	mu      sync.Mutex
	file    *os.File
	next    func() ([]byte, uint32, time.Duration, error)
	rewind  func() error
	pack    rtp.Packetizer
	pending []*rtp.Packet
	due     time.Time

	closed chan struct{}
	once   sync.Once
}

func newFileSource(kind domain.MediaKind, codec webrtc.RTPCodecCapability, path string, payloader rtp.Payloader) *fileSource {
	return &fileSource{
		kind:   kind,
		codec:  codec,
		path:   path,
		pack:   rtp.NewPacketizer(rtpMTU, 0, rand.Uint32(), payloader, rtp.NewRandomSequencer(), codec.ClockRate),
		closed: make(chan struct{}),
	}
}

func (s *fileSource) Kind() domain.MediaKind { return s.kind }

func (s *fileSource) Codec() webrtc.RTPCodecCapability { return s.codec }

func (s *fileSource) ReadRTP() (*rtp.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 {
		payload, samples, dur, err := s.next()
		if errors.Is(err, io.EOF) {
			if err = s.rewind(); err == nil {
				continue
			}
		}
		if err != nil {
			select {
			case <-s.closed:
				return nil, ErrSourceClosed
			default:
				return nil, err
			}
		}
		if wait := time.Until(s.due); wait > 0 {
			select {
			case <-s.closed:
				return nil, ErrSourceClosed
			case <-time.After(wait):
			}
		}
		s.due = time.Now().Add(dur)
		s.pending = s.pack.Packetize(payload, samples)
	}
	select {
	case <-s.closed:
		return nil, ErrSourceClosed
	default:
	}
	pkt := s.pending[0]
	s.pending = s.pending[1:]
	return pkt, nil
}

func (s *fileSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func openIVF(path string, kind domain.MediaKind) (*fileSource, error) {
	src := newFileSource(kind, codecVP8, path, &codecs.VP8Payloader{})
	var reader *ivfreader.IVFReader
	var frame time.Duration

	src.rewind = func() error {
		if src.file != nil {
			_ = src.file.Close()
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		r, header, err := ivfreader.NewWith(f)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("ivf %s: %w", path, err)
		}
		src.file, reader = f, r
		frame = time.Second / 30
		if header.TimebaseDenominator > 0 {
			frame = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
		}
		return nil
	}
	src.next = func() ([]byte, uint32, time.Duration, error) {
		if reader == nil {
			return nil, 0, 0, ErrSourceClosed
		}
		data, _, err := reader.ParseNextFrame()
		if err != nil {
			return nil, 0, 0, err
		}
		return data, uint32(frame.Seconds() * vp8ClockRate), frame, nil
	}
	if err := src.rewind(); err != nil {
		return nil, err
	}
	return src, nil
}

func openOgg(path string) (*fileSource, error) {
	src := newFileSource(domain.KindAudio, codecOpus, path, &codecs.OpusPayloader{})
	var reader *oggreader.OggReader
	var lastGranule uint64

	src.rewind = func() error {
		if src.file != nil {
			_ = src.file.Close()
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		r, _, err := oggreader.NewWith(f)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("ogg %s: %w", path, err)
		}
		src.file, reader, lastGranule = f, r, 0
		return nil
	}
	src.next = func() ([]byte, uint32, time.Duration, error) {
		if reader == nil {
			return nil, 0, 0, ErrSourceClosed
		}
		var data []byte
		var samples uint32
		for samples == 0 {
			page, header, err := reader.ParseNextPage()
			if err != nil {
				return nil, 0, 0, err
			}
			// Header pages carry no granule advance.
			if header.GranulePosition <= lastGranule {
				continue
			}
			data = page
			samples = uint32(header.GranulePosition - lastGranule)
			lastGranule = header.GranulePosition
		}
		dur := time.Duration(samples) * time.Second / opusClockRate
		return data, samples, dur, nil
	}
	if err := src.rewind(); err != nil {
		return nil, err
	}
	return src, nil
}
