// Package onvif talks to the camera's ONVIF services: device management for
// identification, the media service for the stream URI, and the PTZ service
// for motion. Tapo cameras expose these on port 2020 rather than 80.
package onvif

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	goonvif "github.com/use-go/onvif"
	devicetypes "github.com/use-go/onvif/device"
	mediatypes "github.com/use-go/onvif/media"
	sdkdevice "github.com/use-go/onvif/sdk/device"
	sdkmedia "github.com/use-go/onvif/sdk/media"
	xsdonvif "github.com/use-go/onvif/xsd/onvif"

	"github.com/rs/zerolog"

	"camview/internal/rtsp"
	"camview/internal/session"
	"camview/internal/video"
)

// How long each probed stream candidate gets to produce packets.
const probeWindow = 2 * time.Second

// Connector implements session.Connector against a real ONVIF device.
type Connector struct {
	cfg session.Config
	log zerolog.Logger
}

// NewConnector builds a connector for the camera described by cfg.
func NewConnector(cfg session.Config, log zerolog.Logger) *Connector {
	return &Connector{cfg: cfg, log: log.With().Str("component", "onvif").Logger()}
}

// Connect runs the full handshake: identify the device, resolve a working
// stream URL, open the decoder, and verify the PTZ service. A missing PTZ
// service is not fatal; the returned Commander is nil in that case.
func (c *Connector) Connect(ctx context.Context) (session.Handles, error) {
	dev, err := goonvif.NewDevice(goonvif.DeviceParams{
		Xaddr:      fmt.Sprintf("%s:%d", c.cfg.Address, c.cfg.OnvifPort),
		Username:   c.cfg.Username,
		Password:   c.cfg.Password,
		HttpClient: &http.Client{Timeout: c.cfg.ConnectTimeout},
	})
	if err != nil {
		return session.Handles{}, classify(err, fmt.Errorf("%w: %s:%d: %v",
			session.ErrNetworkUnavailable, c.cfg.Address, c.cfg.OnvifPort, err))
	}

	info, err := c.deviceInfo(ctx, dev)
	if err != nil {
		return session.Handles{}, err
	}
	c.log.Info().
		Str("manufacturer", info.Manufacturer).
		Str("model", info.Model).
		Str("firmware", info.Firmware).
		Msg("device identified")

	streamURL, err := c.resolveStream(ctx, dev)
	if err != nil {
		return session.Handles{}, err
	}
	info.StreamURL = streamURL

	src, err := video.Open(streamURL)
	if err != nil {
		return session.Handles{}, fmt.Errorf("%w: %v", session.ErrStreamUnavailable, err)
	}

	h := session.Handles{Source: src, Info: info}
	if cmd := c.verifyPTZ(ctx, dev); cmd != nil {
		h.Commander = cmd
	}
	return h, nil
}

// deviceInfo is the first authenticated call, so bad credentials surface
// here rather than later in the handshake.
func (c *Connector) deviceInfo(ctx context.Context, dev *goonvif.Device) (session.DeviceInfo, error) {
	resp, err := sdkdevice.Call_GetDeviceInformation(ctx, dev, devicetypes.GetDeviceInformation{})
	if err != nil {
		return session.DeviceInfo{}, classify(err,
			fmt.Errorf("%w: get device information: %v", session.ErrNetworkUnavailable, err))
	}
	return session.DeviceInfo{
		Manufacturer: string(resp.Manufacturer),
		Model:        string(resp.Model),
		Firmware:     string(resp.FirmwareVersion),
		Serial:       string(resp.SerialNumber),
	}, nil
}

// resolveStream asks the media service for a stream URI, then probes it and
// the well-known Tapo fallback paths until one actually delivers packets.
func (c *Connector) resolveStream(ctx context.Context, dev *goonvif.Device) (string, error) {
	var candidates []string

	if uri, err := c.streamURI(ctx, dev); err != nil {
		c.log.Warn().Err(err).Msg("media service gave no stream uri, trying fallback urls")
	} else {
		candidates = append(candidates, uri)
	}
	creds := fmt.Sprintf("%s:%s", url.QueryEscape(c.cfg.Username), url.QueryEscape(c.cfg.Password))
	candidates = append(candidates,
		fmt.Sprintf("rtsp://%s@%s:554/stream1", creds, c.cfg.Address),
		fmt.Sprintf("rtsp://%s@%s:554/stream2", creds, c.cfg.Address),
		fmt.Sprintf("rtsp://%s@%s/stream1", creds, c.cfg.Address),
		fmt.Sprintf("rtsp://%s@%s/stream2", creds, c.cfg.Address),
	)

	seen := make(map[string]bool)
	for _, candidate := range candidates {
		if seen[candidate] {
			continue
		}
		seen[candidate] = true

		res, err := rtsp.Probe(ctx, candidate, probeWindow, c.log)
		if err != nil {
			c.log.Debug().Err(err).Str("url", redact(candidate)).Msg("stream candidate rejected")
			continue
		}
		c.log.Info().
			Str("url", redact(candidate)).
			Str("codec", res.Codec).
			Uint64("packets", res.Packets).
			Msg("stream selected")
		return candidate, nil
	}
	return "", fmt.Errorf("%w: no candidate url delivered video", session.ErrStreamUnavailable)
}

// streamURI resolves the media service's RTSP URI for the first profile and
// injects the credentials the URI omits.
func (c *Connector) streamURI(ctx context.Context, dev *goonvif.Device) (string, error) {
	profiles, err := sdkmedia.Call_GetProfiles(ctx, dev, mediatypes.GetProfiles{})
	if err != nil {
		return "", classify(err, fmt.Errorf("get profiles: %w", err))
	}
	if len(profiles.Profiles) == 0 {
		return "", fmt.Errorf("media service reported no profiles")
	}
	token := profiles.Profiles[0].Token

	resp, err := sdkmedia.Call_GetStreamUri(ctx, dev, mediatypes.GetStreamUri{
		StreamSetup: xsdonvif.StreamSetup{
			Stream: "RTP-Unicast",
			Transport: xsdonvif.Transport{
				Protocol: "RTSP",
			},
		},
		ProfileToken: token,
	})
	if err != nil {
		return "", classify(err, fmt.Errorf("get stream uri: %w", err))
	}

	return withCredentials(string(resp.MediaUri.Uri), c.cfg.Username, c.cfg.Password)
}

// withCredentials embeds user:pass in an RTSP URI that lacks them.
func withCredentials(raw, user, pass string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse stream uri %q: %w", raw, err)
	}
	if u.User == nil && user != "" {
		u.User = url.UserPassword(user, pass)
	}
	return u.String(), nil
}

// redact strips credentials from a URL for logging.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

// classify maps transport and SOAP failures onto the session error taxonomy.
// fallback is returned when the error fits no known category.
func classify(err error, fallback error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", session.ErrNetworkUnavailable, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "notauthorized"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "401"):
		return fmt.Errorf("%w: %v", session.ErrAuthFailed, err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "camera is not available"):
		return fmt.Errorf("%w: %v", session.ErrNetworkUnavailable, err)
	}
	return fallback
}
