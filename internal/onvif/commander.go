package onvif

import (
	"context"
	"fmt"
	"time"

	goonvif "github.com/use-go/onvif"
	ptztypes "github.com/use-go/onvif/ptz"
	sdkptz "github.com/use-go/onvif/sdk/ptz"
	"github.com/use-go/onvif/xsd"
	xsdonvif "github.com/use-go/onvif/xsd/onvif"

	"github.com/rs/zerolog"
)

// Per-command deadline for PTZ calls. The motion controller dispatches these
// off the control loop, so a slow camera costs dropped steps, not lag.
const commandTimeout = 5 * time.Second

// Commander drives the ONVIF PTZ service with absolute moves. It implements
// motion.Commander.
type Commander struct {
	dev     *goonvif.Device
	profile xsdonvif.ReferenceToken
	log     zerolog.Logger
}

// verifyPTZ checks that the PTZ service answers for the default profile.
// Cameras without motors (or with PTZ disabled) fail here; the session then
// runs view-only with a nil commander.
func (c *Connector) verifyPTZ(ctx context.Context, dev *goonvif.Device) *Commander {
	const profile = "profile_1" // Tapo's fixed main profile token

	_, err := sdkptz.Call_GetStatus(ctx, dev, ptztypes.GetStatus{ProfileToken: profile})
	if err != nil {
		c.log.Warn().Err(err).Msg("ptz service unavailable, continuing view-only")
		return nil
	}
	c.log.Info().Msg("ptz service verified")
	return &Commander{dev: dev, profile: profile, log: c.log}
}

// AbsoluteMove drives both axes to the given normalized position.
func (c *Commander) AbsoluteMove(pan, tilt, panSpeed, tiltSpeed float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	_, err := sdkptz.Call_AbsoluteMove(ctx, c.dev, ptztypes.AbsoluteMove{
		ProfileToken: c.profile,
		Position: xsdonvif.PTZVector{
			PanTilt: xsdonvif.Vector2D{X: pan, Y: tilt},
		},
		Speed: xsdonvif.PTZSpeed{
			PanTilt: xsdonvif.Vector2D{X: panSpeed, Y: tiltSpeed},
		},
	})
	if err != nil {
		return fmt.Errorf("onvif: absolute move: %w", err)
	}
	return nil
}

// Halt stops movement on both axes.
func (c *Commander) Halt() error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	_, err := sdkptz.Call_Stop(ctx, c.dev, ptztypes.Stop{
		ProfileToken: c.profile,
		PanTilt:      xsd.Boolean(true),
		Zoom:         xsd.Boolean(true),
	})
	if err != nil {
		return fmt.Errorf("onvif: stop: %w", err)
	}
	return nil
}
