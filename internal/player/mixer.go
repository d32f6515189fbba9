package player

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Mixer applies an output volume.
type Mixer interface {
	SetVolume(ctx context.Context, percent int) error
}

// AmixerMixer sets the ALSA mixer control through amixer.
type AmixerMixer struct {
	Control string
	Path    string // amixer binary; defaults to "amixer"
}

// SetVolume runs `amixer sset <control> <percent>%`.
func (m AmixerMixer) SetVolume(ctx context.Context, percent int) error {
	bin := m.Path
	if bin == "" {
		bin = "amixer"
	}
	cmd := exec.CommandContext(ctx, bin, "sset", m.Control, fmt.Sprintf("%d%%", percent))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("amixer sset %s: %w: %s", m.Control, err, msg)
		}
		return fmt.Errorf("amixer sset %s: %w", m.Control, err)
	}
	return nil
}

// NoopMixer accepts every volume and does nothing.
type NoopMixer struct{}

func (NoopMixer) SetVolume(context.Context, int) error { return nil }
