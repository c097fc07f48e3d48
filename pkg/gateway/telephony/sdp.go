package telephony

import (
	"fmt"
	"time"

	sdp "github.com/pion/sdp/v3"

	"github.com/vango-go/vai-voip/pkg/core/audio"
)

// Offer summarizes the parts of an SDP offer the gateway acts on.
type Offer struct {
	// Address is the remote media address from the connection line.
	Address string
	// Port is the remote RTP port for the first audio section.
	Port int
	// SupportsPCMU reports whether the offer includes G.711 mu-law at 8 kHz.
	SupportsPCMU bool
}

// ParseOffer reads an SDP offer and locates the audio section.
// Only PCMU/8000 is negotiated; callers should reject offers where
// SupportsPCMU is false.
func ParseOffer(body []byte) (*Offer, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("parse sdp offer: %w", err)
	}

	offer := &Offer{}
	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		offer.Address = sd.ConnectionInformation.Address.Address
	}

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		offer.Port = md.MediaName.Port.Value
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			offer.Address = md.ConnectionInformation.Address.Address
		}
		for _, format := range md.MediaName.Formats {
			var payloadType uint8
			if _, err := fmt.Sscanf(format, "%d", &payloadType); err != nil {
				continue
			}
			// Static payload type 0 is PCMU even without an rtpmap line.
			if payloadType == 0 {
				offer.SupportsPCMU = true
				continue
			}
			codec, err := sd.GetCodecForPayloadType(payloadType)
			if err != nil {
				continue
			}
			if codec.Name == "PCMU" && codec.ClockRate == uint32(audio.SampleRate) {
				offer.SupportsPCMU = true
			}
		}
		break
	}

	if offer.Port == 0 {
		return nil, fmt.Errorf("sdp offer has no audio section")
	}
	return offer, nil
}

// BuildAnswer produces the PCMU-only SDP answer advertising the given
// media address and RTP port.
func BuildAnswer(publicIP string, rtpPort int) ([]byte, error) {
	sessionID := uint64(time.Now().Unix())

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: rtpPort},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{},
		},
		Attributes: []sdp.Attribute{
			{Key: "ptime", Value: "20"},
			{Key: "sendrecv"},
		},
	}
	media = media.WithCodec(0, "PCMU", uint32(audio.SampleRate), 1, "")

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: publicIP,
		},
		SessionName: "vai-voip",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: publicIP},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{media},
	}

	body, err := sd.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal sdp answer: %w", err)
	}
	return body, nil
}
