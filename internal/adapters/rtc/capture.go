// Package rtc adapts pion/webrtc to the peer-connection and media contracts.
package rtc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videocall/internal/config"
	"github.com/dkeye/videocall/internal/core"
	"github.com/dkeye/videocall/internal/domain"
)

var (
	// opus comfort-noise frame
	silenceFrame = []byte{0xf8, 0xff, 0xfe}
	blankFrame   = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}
)

// Capture is a synthetic capture device: it produces an audio and a video
// track fed with silence and blank frames.
type Capture struct {
	cfg config.MediaConfig
}

var _ core.MediaEndpoint = (*Capture)(nil)

func NewCapture(cfg config.MediaConfig) *Capture {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 20 * time.Millisecond
	}
	return &Capture{cfg: cfg}
}

func (c *Capture) Acquire(_ context.Context) (*core.TrackSet, *core.RemoteSink, error) {
	if !c.cfg.Allow {
		return nil, nil, domain.ErrPermissionDenied
	}
	if !c.cfg.Audio && !c.cfg.Video {
		return nil, nil, domain.ErrDeviceUnavailable
	}

	stream := "local-" + uuid.NewString()
	var tracks []*webrtc.TrackLocalStaticSample
	if c.cfg.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", stream)
		if err != nil {
			return nil, nil, err
		}
		tracks = append(tracks, t)
	}
	if c.cfg.Video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", stream)
		if err != nil {
			return nil, nil, err
		}
		tracks = append(tracks, t)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go c.pump(ctx, tracks)

	locals := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		locals = append(locals, t)
	}
	log.Info().Str("module", "rtc.capture").Str("stream", stream).Int("tracks", len(locals)).Msg("capture started")
	return core.NewTrackSet(cancel, locals...), core.NewRemoteSink(), nil
}

func (c *Capture) Release(ts *core.TrackSet) {
	if ts == nil {
		return
	}
	ts.Stop()
}

func (c *Capture) pump(ctx context.Context, tracks []*webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(c.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "rtc.capture").Msg("capture stopped")
			return
		case <-ticker.C:
		}
		for _, t := range tracks {
			frame := blankFrame
			if t.Kind() == webrtc.RTPCodecTypeAudio {
				frame = silenceFrame
			}
			if err := t.WriteSample(media.Sample{Data: frame, Duration: c.cfg.FrameInterval}); err != nil {
				log.Debug().Err(err).Str("module", "rtc.capture").Str("track_id", t.ID()).Msg("write sample")
			}
		}
	}
}
