package rtc

import (
	"context"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// TrackStats counts RTP received on one remote track.
type TrackStats struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
}

type TrackSnapshot struct {
	Packets uint64
	Bytes   uint64
	LastSeq uint16
}

func (s *TrackStats) observe(pkt *rtp.Packet) {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(pkt.Payload)))
	s.lastSeq.Store(uint32(pkt.SequenceNumber))
}

func (s *TrackStats) Snapshot() TrackSnapshot {
	return TrackSnapshot{
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
		LastSeq: uint16(s.lastSeq.Load()),
	}
}

// drain reads RTP from a remote track until it ends so the receive buffers never fill.
func drain(ctx context.Context, track *webrtc.TrackRemote, stats *TrackStats, logger zerolog.Logger) {
	logger = logger.With().Str("track_id", track.ID()).Logger()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("drain ctx done")
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("remote track ended")
			return
		}
		stats.observe(pkt)
	}
}
