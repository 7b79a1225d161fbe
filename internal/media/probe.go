package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Prober reads the duration of a local media file via ffprobe.
type Prober struct {
	ffprobePath string
	runner      commandRunner
}

func NewProber() *Prober {
	return &Prober{
		ffprobePath: "ffprobe",
		runner:      &execRunner{},
	}
}

// Duration returns the media duration reported by the container.
func (p *Prober) Duration(ctx context.Context, path string) (time.Duration, error) {
	out, err := p.runner.Run(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparseable duration %q", strings.TrimSpace(out))
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
