package telephony

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/vango-go/vai-voip/pkg/core/audio"
)

const (
	// payloadTypePCMU is the static RTP payload type for G.711 mu-law.
	payloadTypePCMU = 0

	rtpReadBufferSize = 1500
	rtpReadTimeout    = time.Second
)

// FrameSource supplies outbound audio one frame at a time. ReadFrame
// blocks briefly and returns a silence frame when nothing is queued,
// so the sender always has something to transmit.
type FrameSource interface {
	ReadFrame() []byte
}

// UplinkFunc receives the mu-law payload of each inbound RTP packet.
type UplinkFunc func(payload []byte)

// PortAllocator hands out even RTP ports from a configured range.
// RTCP is not used, but keeping ports even follows convention and
// avoids confusing middleboxes that assume the RTP/RTCP pairing.
type PortAllocator struct {
	mu   sync.Mutex
	min  int
	max  int
	next int
}

func NewPortAllocator(min, max int) *PortAllocator {
	return &PortAllocator{min: min, max: max, next: min}
}

// Listen binds a UDP socket on the next free port in the range.
func (a *PortAllocator) Listen() (*net.UDPConn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	attempts := (a.max-a.min)/2 + 1
	for i := 0; i < attempts; i++ {
		port := a.next
		a.next += 2
		if a.next > a.max {
			a.next = a.min
		}
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
		if err == nil {
			return conn, nil
		}
	}
	return nil, fmt.Errorf("no free rtp port in range %d-%d", a.min, a.max)
}

// RTPSession moves audio between a single caller and the gateway.
// The receive loop latches the remote address from the first inbound
// packet (symmetric RTP), falling back to the SDP offer's address
// until then.
type RTPSession struct {
	logger *slog.Logger
	conn   *net.UDPConn

	mu         sync.Mutex
	remoteAddr *net.UDPAddr
	latched    bool

	seq  uint16
	ts   uint32
	ssrc uint32

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

func NewRTPSession(logger *slog.Logger, conn *net.UDPConn, offerAddr string, offerPort int) *RTPSession {
	s := &RTPSession{
		logger: logger,
		conn:   conn,
		seq:    uint16(rand.Intn(1 << 16)),
		ts:     rand.Uint32(),
		ssrc:   rand.Uint32(),
		stop:   make(chan struct{}),
	}
	if ip := net.ParseIP(offerAddr); ip != nil && offerPort > 0 {
		s.remoteAddr = &net.UDPAddr{IP: ip, Port: offerPort}
	}
	return s
}

// LocalPort returns the bound RTP port for the SDP answer.
func (s *RTPSession) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// Start launches the receive loop and the paced sender.
func (s *RTPSession) Start(uplink UplinkFunc, source FrameSource) {
	s.done.Add(2)
	go s.receiveLoop(uplink)
	go s.sendLoop(source)
}

// Close stops both loops and releases the socket. Safe to call twice.
func (s *RTPSession) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.conn.Close()
	})
	s.done.Wait()
}

func (s *RTPSession) receiveLoop(uplink UplinkFunc) {
	defer s.done.Done()

	buf := make([]byte, rtpReadBufferSize)
	var pkt rtp.Packet
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(rtpReadTimeout))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stop:
			default:
				s.logger.Error("rtp read failed", "error", err)
			}
			return
		}

		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Debug("dropping malformed rtp packet", "error", err)
			continue
		}
		if pkt.PayloadType != payloadTypePCMU || len(pkt.Payload) == 0 {
			continue
		}

		s.mu.Lock()
		if !s.latched {
			s.remoteAddr = addr
			s.latched = true
			s.logger.Info("latched remote rtp address", "addr", addr.String())
		}
		s.mu.Unlock()

		payload := make([]byte, len(pkt.Payload))
		copy(payload, pkt.Payload)
		uplink(payload)
	}
}

// sendLoop transmits one frame every 20ms. The ticker keeps pacing
// steady regardless of how quickly the model produces audio.
func (s *RTPSession) sendLoop(source FrameSource) {
	defer s.done.Done()

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	first := true
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		addr := s.remoteAddr
		s.mu.Unlock()
		if addr == nil {
			continue
		}

		frame := source.ReadFrame()
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         first,
				PayloadType:    payloadTypePCMU,
				SequenceNumber: s.seq,
				Timestamp:      s.ts,
				SSRC:           s.ssrc,
			},
			Payload: frame,
		}
		first = false
		s.seq++
		s.ts += uint32(len(frame))

		raw, err := pkt.Marshal()
		if err != nil {
			s.logger.Error("rtp marshal failed", "error", err)
			continue
		}
		if _, err := s.conn.WriteToUDP(raw, addr); err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			s.logger.Warn("rtp send failed", "addr", addr.String(), "error", err)
		}
	}
}
