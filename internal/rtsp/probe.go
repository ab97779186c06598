// Package rtsp verifies that an RTSP stream URL is alive before the session
// commits to it: DESCRIBE, pick a video media, SETUP, PLAY, and count RTP
// packets for a short window. Candidate URLs that fail here are skipped in
// favor of the next fallback.
package rtsp

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// ErrNoVideo means the stream described no video media.
var ErrNoVideo = errors.New("rtsp: no video media in stream")

// ErrNoPackets means the stream played but delivered nothing within the
// probe window.
var ErrNoPackets = errors.New("rtsp: no RTP packets received")

// Result summarizes a successful probe.
type Result struct {
	Codec   string
	Packets uint64
	LastSeq uint16
	Elapsed time.Duration
}

// Probe checks that url serves video, watching the stream for the given
// window. It always returns within roughly window plus the transport
// timeouts; ctx cancellation cuts it short.
func Probe(ctx context.Context, url string, window time.Duration, log zerolog.Logger) (Result, error) {
	log = log.With().Str("component", "rtsp").Logger()
	start := time.Now()

	u, err := base.ParseURL(url)
	if err != nil {
		return Result{}, fmt.Errorf("rtsp: parse url: %w", err)
	}

	client := &gortsplib.Client{
		Transport: func() *gortsplib.Transport {
			t := gortsplib.TransportTCP
			return &t
		}(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		OnDecodeError: func(err error) {
			log.Debug().Err(err).Msg("decode error during probe")
		},
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return Result{}, fmt.Errorf("rtsp: connect: %w", err)
	}
	defer client.Close()

	desc, _, err := client.Describe(u)
	if err != nil {
		return Result{}, fmt.Errorf("rtsp: describe: %w", err)
	}

	videoFormat, videoMedia := pickVideo(desc)
	if videoFormat == nil {
		return Result{}, ErrNoVideo
	}

	if _, err := client.Setup(desc.BaseURL, videoMedia, 0, 0); err != nil {
		return Result{}, fmt.Errorf("rtsp: setup: %w", err)
	}

	var packets atomic.Uint64
	var lastSeq atomic.Uint32
	client.OnPacketRTPAny(func(_ *description.Media, _ format.Format, pkt *rtp.Packet) {
		packets.Add(1)
		lastSeq.Store(uint32(pkt.SequenceNumber))
	})

	if _, err := client.Play(nil); err != nil {
		return Result{}, fmt.Errorf("rtsp: play: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(window):
	}

	n := packets.Load()
	if n == 0 {
		return Result{}, ErrNoPackets
	}

	res := Result{
		Codec:   videoFormat.Codec(),
		Packets: n,
		LastSeq: uint16(lastSeq.Load()),
		Elapsed: time.Since(start),
	}
	log.Debug().
		Str("codec", res.Codec).
		Uint64("packets", res.Packets).
		Dur("elapsed", res.Elapsed).
		Msg("stream probe ok")
	return res, nil
}

// pickVideo prefers H264/H265, falling back to the first video media.
func pickVideo(desc *description.Session) (format.Format, *description.Media) {
	for _, media := range desc.Medias {
		for _, f := range media.Formats {
			switch f.(type) {
			case *format.H264, *format.H265:
				return f, media
			}
		}
	}
	for _, media := range desc.Medias {
		if media.Type == description.MediaTypeVideo && len(media.Formats) > 0 {
			return media.Formats[0], media
		}
	}
	return nil, nil
}
