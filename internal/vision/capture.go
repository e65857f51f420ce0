// File: internal/vision/capture.go
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette-cli/api/schemas"
	"github.com/xkilldash9x/marionette-cli/internal/config"
)

// ExecFrameSource captures the screen by shelling out to an external
// screenshot tool that writes a PNG to stdout (ImageMagick's `import` by
// default). It is the built-in FrameSource adapter; capture itself remains a
// swappable collaborator behind the schemas.FrameSource interface.
type ExecFrameSource struct {
	argv   []string
	cfg    config.ActuatorConfig
	logger *zap.Logger
}

var _ schemas.FrameSource = (*ExecFrameSource)(nil)

// NewExecFrameSource builds the adapter from the actuator configuration.
func NewExecFrameSource(cfg config.ActuatorConfig, logger *zap.Logger) (*ExecFrameSource, error) {
	argv := strings.Fields(cfg.CaptureCommand)
	if len(argv) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &ExecFrameSource{
		argv:   argv,
		cfg:    cfg,
		logger: logger.Named("frame_source"),
	}, nil
}

// Capture runs the screenshot command and decodes its PNG output into a
// Frame. Any failure surfaces to the loop as a perception error for this
// cycle.
func (s *ExecFrameSource) Capture(ctx context.Context) (*schemas.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CaptureTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		s.logger.Warn("Screen capture failed",
			zap.Error(err), zap.String("stderr", strings.TrimSpace(stderr.String())))
		return nil, fmt.Errorf("screen capture: %w", err)
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode captured PNG: %w", err)
	}
	return FrameFromImage(img), nil
}

// FrameFromImage converts any decoded image into the detector's RGBA frame
// layout.
func FrameFromImage(img image.Image) *schemas.Frame {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	return &schemas.Frame{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pix:    rgba.Pix,
	}
}
