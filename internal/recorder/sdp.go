package recorder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/isqad/livelook-recorder/internal/core"
)

const sdpLocalAddress = "127.0.0.1"

// CodecInfo is a codec mapping advertised to ffmpeg
type CodecInfo struct {
	PayloadType uint8  `json:"payload_type"`
	CodecName   string `json:"codec_name"`
	ClockRate   uint32 `json:"clock_rate"`
	Channels    uint16 `json:"channels,omitempty"`
}

// CodecInfoFromRTPParameters picks the first codec of the given kind
func CodecInfoFromRTPParameters(kind core.MediaKind, params core.RTPParameters) (*CodecInfo, error) {
	for _, codec := range params.Codecs {
		if codec.Kind() != kind {
			continue
		}

		_, name, _ := strings.Cut(codec.MimeType, "/")

		return &CodecInfo{
			PayloadType: codec.PayloadType,
			CodecName:   name,
			ClockRate:   codec.ClockRate,
			Channels:    codec.Channels,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrMissingCodec, kind)
}

// BuildSessionDescription describes the plain RTP stream ffmpeg reads from remotePort
func BuildSessionDescription(kind core.MediaKind, codec *CodecInfo, remotePort int) ([]byte, error) {
	if codec == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingCodec, kind)
	}
	if kind != core.VideoKind && kind != core.AudioKind {
		return nil, fmt.Errorf("%w: media kind %q", ErrInvalidCodec, kind)
	}
	if codec.CodecName == "" || codec.ClockRate == 0 {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidCodec, *codec)
	}
	if remotePort <= 0 || remotePort > 65535 {
		return nil, fmt.Errorf("%w: port %d", ErrInvalidCodec, remotePort)
	}

	rtpmap := fmt.Sprintf("%d %s/%d", codec.PayloadType, codec.CodecName, codec.ClockRate)
	if kind == core.AudioKind {
		if codec.Channels == 0 {
			return nil, fmt.Errorf("%w: audio without channels", ErrInvalidCodec)
		}
		rtpmap += fmt.Sprintf("/%d", codec.Channels)
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: sdpLocalAddress,
		},
		SessionName: "FFmpeg",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: sdpLocalAddress},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{
				Timing: sdp.Timing{
					StartTime: 0,
					StopTime:  0,
				},
			},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   string(kind),
					Port:    sdp.RangedPort{Value: remotePort},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{strconv.Itoa(int(codec.PayloadType))},
				},
				Attributes: []sdp.Attribute{
					sdp.NewAttribute("rtpmap", rtpmap),
					sdp.NewPropertyAttribute(sdp.AttrKeySendOnly),
				},
			},
		},
	}

	return desc.Marshal()
}
