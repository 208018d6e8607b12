package config

import (
	"errors"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/viper"
)

const (
	frameMarking = "urn:ietf:params:rtp-hdrext:framemarking"

	// RecordFileLocationEnv overrides the directory where recordings are written
	RecordFileLocationEnv = "RECORD_FILE_LOCATION_PATH"
)

var errInvalidPortRange = errors.New("invalid recording port range")

type Config struct {
	Address   string
	Peer      PeerConfig
	RTC       RTCConfig
	Recording RecordingConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Database  DatabaseConfig
}

type RTCConfig struct {
	ICEPortRangeStart uint32
	ICEPortRangeEnd   uint32
}

// RecordingConfig configures ffmpeg recorders
type RecordingConfig struct {
	FileLocationPath string
	FFmpegPath       string
	Extension        string
	PortRangeStart   int
	PortRangeEnd     int
	AutoStart        bool
}

type RedisConfig struct {
	Addr string
	DB   int
}

type NATSConfig struct {
	Addr string
}

type DatabaseConfig struct {
	DSN string
}

type CodecSpec struct {
	Mime     string
	FmtpLine string
}

type WebRTCConfig struct {
	Configuration webrtc.Configuration
	SettingEngine webrtc.SettingEngine
	Publisher     DirectionConfig
}

type RTPHeaderExtensionConfig struct {
	Audio []string
	Video []string
}

type RTCPFeedbackConfig struct {
	Audio []webrtc.RTCPFeedback
	Video []webrtc.RTCPFeedback
}

type DirectionConfig struct {
	RTPHeaderExtension RTPHeaderExtensionConfig
	RTCPFeedback       RTCPFeedbackConfig
}

type PeerConfig struct {
	EnabledCodecs []CodecSpec
}

func NewConfig() *Config {
	conf := &Config{
		Address: ":3000",
		RTC: RTCConfig{
			ICEPortRangeStart: 50000,
			ICEPortRangeEnd:   60000,
		},
		Peer: PeerConfig{
			EnabledCodecs: []CodecSpec{
				{Mime: webrtc.MimeTypeOpus},
				{Mime: webrtc.MimeTypeVP8},
			},
		},
		Recording: RecordingConfig{
			FileLocationPath: "./files",
			FFmpegPath:       "ffmpeg",
			Extension:        "webm",
			PortRangeStart:   20000,
			PortRangeEnd:     20999,
			AutoStart:        true,
		},
	}

	return conf
}

// Load reads configuration from the optional file and the environment.
// Keys are nested with dots, i.e. recording.port_range_start or RECORDING_PORT_RANGE_START.
func Load(path string) (*Config, error) {
	conf := NewConfig()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("address", conf.Address)
	v.SetDefault("rtc.ice_port_range_start", conf.RTC.ICEPortRangeStart)
	v.SetDefault("rtc.ice_port_range_end", conf.RTC.ICEPortRangeEnd)
	v.SetDefault("peer.enabled_codecs", []string{webrtc.MimeTypeOpus, webrtc.MimeTypeVP8})
	v.SetDefault("recording.ffmpeg_path", conf.Recording.FFmpegPath)
	v.SetDefault("recording.extension", conf.Recording.Extension)
	v.SetDefault("recording.port_range_start", conf.Recording.PortRangeStart)
	v.SetDefault("recording.port_range_end", conf.Recording.PortRangeEnd)
	v.SetDefault("recording.auto_start", conf.Recording.AutoStart)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("nats.addr", "")
	v.SetDefault("database.dsn", "")

	if err := v.BindEnv("recording.file_location_path", RecordFileLocationEnv); err != nil {
		return nil, err
	}
	v.SetDefault("recording.file_location_path", conf.Recording.FileLocationPath)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	conf.Address = v.GetString("address")
	conf.RTC.ICEPortRangeStart = v.GetUint32("rtc.ice_port_range_start")
	conf.RTC.ICEPortRangeEnd = v.GetUint32("rtc.ice_port_range_end")

	conf.Peer.EnabledCodecs = conf.Peer.EnabledCodecs[:0]
	for _, mime := range v.GetStringSlice("peer.enabled_codecs") {
		conf.Peer.EnabledCodecs = append(conf.Peer.EnabledCodecs, CodecSpec{Mime: mime})
	}

	conf.Recording = RecordingConfig{
		FileLocationPath: v.GetString("recording.file_location_path"),
		FFmpegPath:       v.GetString("recording.ffmpeg_path"),
		Extension:        v.GetString("recording.extension"),
		PortRangeStart:   v.GetInt("recording.port_range_start"),
		PortRangeEnd:     v.GetInt("recording.port_range_end"),
		AutoStart:        v.GetBool("recording.auto_start"),
	}
	conf.Redis = RedisConfig{
		Addr: v.GetString("redis.addr"),
		DB:   v.GetInt("redis.db"),
	}
	conf.NATS.Addr = v.GetString("nats.addr")
	conf.Database.DSN = v.GetString("database.dsn")

	if conf.Recording.PortRangeStart <= 0 || conf.Recording.PortRangeEnd < conf.Recording.PortRangeStart {
		return nil, errInvalidPortRange
	}

	return conf, nil
}

func NewWebRTCConfig(config *Config) (*WebRTCConfig, error) {
	c := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}
	s := webrtc.SettingEngine{}

	networkTypes := make([]webrtc.NetworkType, 0, 4)
	// Use only UDP
	networkTypes = append(networkTypes,
		webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6,
	)
	if err := s.SetEphemeralUDPPortRange(uint16(config.RTC.ICEPortRangeStart), uint16(config.RTC.ICEPortRangeEnd)); err != nil {
		return nil, err
	}
	s.SetNetworkTypes(networkTypes)

	publisherConfig := DirectionConfig{
		RTPHeaderExtension: RTPHeaderExtensionConfig{
			Audio: []string{
				sdp.SDESMidURI,
				sdp.SDESRTPStreamIDURI,
				sdp.AudioLevelURI,
			},
			Video: []string{
				sdp.SDESMidURI,
				sdp.SDESRTPStreamIDURI,
				sdp.TransportCCURI,
				frameMarking,
			},
		},
		RTCPFeedback: RTCPFeedbackConfig{
			Video: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBGoogREMB},
				{Type: webrtc.TypeRTCPFBTransportCC},
				{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			},
		},
	}

	return &WebRTCConfig{
		Configuration: c,
		SettingEngine: s,
		Publisher:     publisherConfig,
	}, nil
}
