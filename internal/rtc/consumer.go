package rtc

import (
	"net"
	"strconv"
	"sync"

	"github.com/pion/rtp"

	"github.com/isqad/livelook-recorder/internal/core"
)

const loopbackAddr = "127.0.0.1"

// UDPSink sends RTP of a media track as plain RTP to a local port
type UDPSink struct {
	port   int
	codec  core.RTPCodecParameters
	conn   *net.UDPConn
	track  *MediaTrack
	params core.ConsumerParameters

	lock      sync.Mutex
	closeOnce sync.Once
}

func NewUDPSink(track *MediaTrack, port int) (*UDPSink, error) {
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(loopbackAddr, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, err
	}

	s := &UDPSink{
		port:  port,
		codec: track.Codec,
		conn:  conn,
		track: track,
		params: core.ConsumerParameters{
			RemoteRTPPort:  port,
			RemoteRTCPPort: port + 1,
			LocalPort:      conn.LocalAddr().(*net.UDPAddr).Port,
			RTPParameters:  core.RTPParameters{Codecs: []core.RTPCodecParameters{track.Codec}},
		},
	}

	return s, nil
}

func (s *UDPSink) Parameters() core.ConsumerParameters {
	return s.params
}

// WriteRTP sends the packet with the payload type negotiated for the consumer
func (s *UDPSink) WriteRTP(pkt *rtp.Packet) error {
	out := *pkt
	out.Header.PayloadType = s.codec.PayloadType

	buf, err := out.Marshal()
	if err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	_, err = s.conn.Write(buf)

	return err
}

func (s *UDPSink) Close() error {
	var err error

	s.closeOnce.Do(func() {
		s.track.RemoveSink(s)

		s.lock.Lock()
		err = s.conn.Close()
		s.lock.Unlock()
	})

	return err
}
