// Package pcapreplay replays 802.11 management frames from a capture file
// as scan events. Live acquisition belongs to the platform sensor layer;
// replay exists for offline analysis and regression runs.
package pcapreplay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/geo"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Source implements ports.EventSource over a pcap file.
type Source struct {
	path     string
	observer geo.Provider
	log      *slog.Logger
	events   chan domain.ScanEvent
}

// New creates a replay source for the capture at path. Captures carry no
// position data, so events are stamped with the observer location when a
// provider is given; path analysis needs the fix.
func New(path string, buffer int, observer geo.Provider, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		path:     path,
		observer: observer,
		log:      log,
		events:   make(chan domain.ScanEvent, buffer),
	}
}

// Events returns the replay stream.
func (s *Source) Events() <-chan domain.ScanEvent { return s.events }

// Close is a no-op; the file handle closes when Start returns.
func (s *Source) Close() {}

// Start reads the capture to completion. Event timestamps come from the
// capture records, so windows replay exactly as they happened.
func (s *Source) Start(ctx context.Context) error {
	defer close(s.events)

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading capture header: %w", err)
	}

	for {
		data, ci, err := r.ReadPacketData()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading packet: %w", err)
		}

		packet := gopacket.NewPacket(data, r.LinkType(), gopacket.Default)
		ev, ok := s.toEvent(packet, ci)
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Source) toEvent(packet gopacket.Packet, ci gopacket.CaptureInfo) (domain.ScanEvent, bool) {
	dot11Layer := packet.Layer(layers.LayerTypeDot11)
	if dot11Layer == nil {
		return domain.ScanEvent{}, false
	}
	dot11 := dot11Layer.(*layers.Dot11)

	obs := domain.WiFiObservation{
		BSSID: dot11.Address3.String(),
	}

	switch {
	case packet.Layer(layers.LayerTypeDot11MgmtBeacon) != nil:
		obs.Frame = domain.WiFiFrameBeacon
		fillBeacon(packet, &obs)
	case packet.Layer(layers.LayerTypeDot11MgmtProbeResp) != nil:
		obs.Frame = domain.WiFiFrameProbeResp
		fillBeacon(packet, &obs)
	case packet.Layer(layers.LayerTypeDot11MgmtDeauthentication) != nil:
		obs.Frame = domain.WiFiFrameDeauth
		obs.TargetMAC = dot11.Address1.String()
		if deauth, ok := packet.Layer(layers.LayerTypeDot11MgmtDeauthentication).(*layers.Dot11MgmtDeauthentication); ok {
			obs.ReasonCode = uint16(deauth.Reason)
		}
	case packet.Layer(layers.LayerTypeDot11MgmtDisassociation) != nil:
		obs.Frame = domain.WiFiFrameDisassoc
		obs.TargetMAC = dot11.Address1.String()
	default:
		return domain.ScanEvent{}, false
	}

	rssi := -70
	if rt, ok := packet.Layer(layers.LayerTypeRadioTap).(*layers.RadioTap); ok && rt != nil {
		rssi = int(rt.DBMAntennaSignal)
	}

	ev := domain.ScanEvent{
		Protocol:  domain.ProtocolWiFi,
		Timestamp: ci.Timestamp,
		Identity:  obs.BSSID,
		RSSI:      rssi,
		WiFi:      &obs,
	}
	if s.observer != nil {
		if loc := s.observer.GetLocation(); loc != (geo.Location{}) {
			ev.Latitude = loc.Latitude
			ev.Longitude = loc.Longitude
			ev.HasFix = true
		}
	}
	return ev, true
}

// fillBeacon extracts SSID and security from the information elements.
func fillBeacon(packet gopacket.Packet, obs *domain.WiFiObservation) {
	hasRSN := false
	hasWPA := false
	for _, l := range packet.Layers() {
		ie, ok := l.(*layers.Dot11InformationElement)
		if !ok {
			continue
		}
		switch ie.ID {
		case layers.Dot11InformationElementIDSSID:
			if len(ie.Info) == 0 {
				obs.Hidden = true
			} else {
				obs.SSID = string(ie.Info)
			}
		case layers.Dot11InformationElementIDRSNInfo:
			hasRSN = true
		case layers.Dot11InformationElementIDVendor:
			// WPA1 rides in a Microsoft vendor IE.
			if len(ie.OUI) >= 4 && ie.OUI[0] == 0x00 && ie.OUI[1] == 0x50 && ie.OUI[2] == 0xf2 && ie.OUI[3] == 0x01 {
				hasWPA = true
			}
		case layers.Dot11InformationElementIDDSSet:
			if len(ie.Info) > 0 {
				obs.Channel = int(ie.Info[0])
			}
		}
	}

	privacy := false
	if b, ok := packet.Layer(layers.LayerTypeDot11MgmtBeacon).(*layers.Dot11MgmtBeacon); ok && b != nil {
		privacy = b.Flags&0x0010 != 0
	} else if p, ok := packet.Layer(layers.LayerTypeDot11MgmtProbeResp).(*layers.Dot11MgmtProbeResp); ok && p != nil {
		privacy = p.Flags&0x0010 != 0
	}

	switch {
	case hasRSN:
		obs.Security = "WPA2"
	case hasWPA:
		obs.Security = "WPA"
	case privacy:
		obs.Security = "WEP"
	default:
		obs.Security = "OPEN"
	}
}
