package dialer

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/soft_conference/pkg/media"
)

var ErrNoCommonCodec = errors.New("нет общего аудио кодека")

var codecNames = map[uint8]string{
	uint8(media.PayloadTypePCMU): "PCMU/8000",
	uint8(media.PayloadTypePCMA): "PCMA/8000",
}

// OfferParams параметры SDP предложения
type OfferParams struct {
	SessionID   uint64
	LocalIP     string
	LocalPort   int
	Payloads    []uint8
	DTMFPayload uint8 // 0 = без telephone-event
	Ptime       time.Duration
}

// BuildOffer формирует SDP предложение с одним аудио потоком
func BuildOffer(p OfferParams) *sdp.SessionDescription {
	if p.SessionID == 0 {
		p.SessionID = uint64(time.Now().UnixNano())
	}
	formats := make([]string, 0, len(p.Payloads)+1)
	attrs := make([]sdp.Attribute, 0, len(p.Payloads)+4)
	for _, pt := range p.Payloads {
		name, ok := codecNames[pt]
		if !ok {
			continue
		}
		formats = append(formats, strconv.Itoa(int(pt)))
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d %s", pt, name)})
	}
	if p.DTMFPayload != 0 {
		formats = append(formats, strconv.Itoa(int(p.DTMFPayload)))
		attrs = append(attrs,
			sdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d telephone-event/8000", p.DTMFPayload)},
			sdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d 0-15", p.DTMFPayload)})
	}
	if p.Ptime > 0 {
		attrs = append(attrs, sdp.Attribute{Key: "ptime", Value: strconv.Itoa(int(p.Ptime / time.Millisecond))})
	}
	attrs = append(attrs, sdp.Attribute{Key: "sendrecv"})

	conn := &sdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: "IP4",
		Address:     &sdp.Address{Address: p.LocalIP},
	}
	return &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      p.SessionID,
			SessionVersion: p.SessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: p.LocalIP,
		},
		SessionName:           "conference",
		ConnectionInformation: conn,
		TimeDescriptions:      []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: p.LocalPort},
				Protos:  []string{"RTP", "AVP"},
				Formats: formats,
			},
			Attributes: attrs,
		}},
	}
}

// Answer согласованные параметры медиа
type Answer struct {
	RemoteAddr  string
	PayloadType media.PayloadType
	DTMFPayload uint8
	Ptime       time.Duration
}

// ParseAnswer разбирает SDP ответ и выбирает первый кодек ответа из offered
func ParseAnswer(body []byte, offered []uint8) (*Answer, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("некорректный SDP ответ: %w", err)
	}
	var audio *sdp.MediaDescription
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "audio" && md.MediaName.Port.Value != 0 {
			audio = md
			break
		}
	}
	if audio == nil {
		return nil, fmt.Errorf("в ответе нет аудио потока: %w", ErrNoCommonCodec)
	}

	var host string
	switch {
	case audio.ConnectionInformation != nil && audio.ConnectionInformation.Address != nil:
		host = audio.ConnectionInformation.Address.Address
	case desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil:
		host = desc.ConnectionInformation.Address.Address
	default:
		host = desc.Origin.UnicastAddress
	}
	if host == "" {
		return nil, fmt.Errorf("в ответе нет адреса медиа")
	}

	ans := &Answer{
		RemoteAddr: fmt.Sprintf("%s:%d", host, audio.MediaName.Port.Value),
		Ptime:      20 * time.Millisecond,
	}
	chosen := false
	for _, f := range audio.MediaName.Formats {
		pt, err := strconv.Atoi(f)
		if err != nil || pt > 127 {
			continue
		}
		if !chosen && slices.Contains(offered, uint8(pt)) {
			if _, ok := codecNames[uint8(pt)]; ok {
				ans.PayloadType = media.PayloadType(pt)
				chosen = true
			}
		}
	}
	if !chosen {
		return nil, ErrNoCommonCodec
	}
	for _, attr := range audio.Attributes {
		switch attr.Key {
		case "ptime":
			if ms, err := strconv.Atoi(strings.TrimSpace(attr.Value)); err == nil && ms > 0 {
				ans.Ptime = time.Duration(ms) * time.Millisecond
			}
		case "rtpmap":
			if strings.Contains(strings.ToLower(attr.Value), "telephone-event") {
				if pt, err := strconv.Atoi(strings.Fields(attr.Value)[0]); err == nil {
					ans.DTMFPayload = uint8(pt)
				}
			}
		}
	}
	return ans, nil
}
