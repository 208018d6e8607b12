package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/isqad/livelook-recorder/internal/core"
)

func TestCommandArgs(t *testing.T) {
	common := []string{
		"-loglevel", "warning",
		"-protocol_whitelist", "pipe,udp,rtp",
		"-fflags", "+genpts",
		"-f", "sdp",
		"-i", "pipe:0",
	}

	t.Run("video", func(t *testing.T) {
		want := append(append([]string{}, common...),
			"-map", "0:v:0",
			"-c:v", "copy",
			"-flags", "+global_header",
			"files/P1-video-1.webm",
		)

		assert.Equal(t, want, CommandArgs(core.VideoKind, "files/P1-video-1.webm"))
	})

	t.Run("audio", func(t *testing.T) {
		want := append(append([]string{}, common...),
			"-map", "0:a:0",
			"-strict", "-2",
			"-c:a", "copy",
			"-flags", "+global_header",
			"files/P1-audio-1.webm",
		)

		assert.Equal(t, want, CommandArgs(core.AudioKind, "files/P1-audio-1.webm"))
	})
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "files/P1-video-1651399200000.webm", OutputPath("./files", "P1", core.VideoKind, "1651399200000", "webm"))
	assert.Equal(t, "/data/P2-audio-42.mkv", OutputPath("/data/", "P2", core.AudioKind, "42", "mkv"))
}
