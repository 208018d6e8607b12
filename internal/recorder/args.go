package recorder

import (
	"fmt"
	"path/filepath"

	"github.com/isqad/livelook-recorder/internal/core"
)

// CommandArgs builds ffmpeg arguments for reading a session description
// from stdin and copying the stream into outputPath without re-encoding
func CommandArgs(kind core.MediaKind, outputPath string) []string {
	args := []string{
		"-loglevel",
		"warning",
		"-protocol_whitelist",
		"pipe,udp,rtp",
		"-fflags",
		"+genpts",
		"-f",
		"sdp",
		"-i",
		"pipe:0",
	}

	if kind == core.VideoKind {
		args = append(args, videoArgs()...)
	} else {
		args = append(args, audioArgs()...)
	}

	return append(args,
		"-flags",
		"+global_header",
		outputPath,
	)
}

func videoArgs() []string {
	return []string{
		"-map",
		"0:v:0",
		"-c:v",
		"copy",
	}
}

func audioArgs() []string {
	return []string{
		"-map",
		"0:a:0",
		"-strict", // vorbis and opus in webm are experimental for ffmpeg
		"-2",
		"-c:a",
		"copy",
	}
}

// OutputPath returns <baseDir>/<peerID>-<kind>-<fileName>.<ext>
func OutputPath(baseDir string, peerID core.PeerID, kind core.MediaKind, fileName, ext string) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s-%s-%s.%s", peerID, kind, fileName, ext))
}
