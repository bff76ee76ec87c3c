package pcapreplay

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/geo"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// deauthFrame builds a raw 802.11 deauthentication frame: management
// type, subtype 12, broadcast receiver, followed by the reason code and
// the trailing FCS the parser expects.
func deauthFrame(bssid [6]byte, reason uint16) []byte {
	frame := make([]byte, 0, 30)
	frame = append(frame, 0xC0, 0x00) // frame control: mgmt/deauth
	frame = append(frame, 0x00, 0x00) // duration
	frame = append(frame, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	frame = append(frame, bssid[:]...)
	frame = append(frame, bssid[:]...)
	frame = append(frame, 0x00, 0x00) // sequence control
	frame = binary.LittleEndian.AppendUint16(frame, reason)
	frame = binary.LittleEndian.AppendUint32(frame, crc32.ChecksumIEEE(frame))
	return frame
}

func writeCapture(t *testing.T, packets [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeIEEE802_11))
	for i, data := range packets {
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     epoch.Add(time.Duration(i) * time.Second),
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return path
}

func TestReplayDeauthFrames(t *testing.T) {
	bssid := [6]byte{0xAA, 0xBB, 0xCC, 0x00, 0x00, 0x01}
	packets := make([][]byte, 5)
	for i := range packets {
		packets[i] = deauthFrame(bssid, 7)
	}
	src := New(writeCapture(t, packets), 16, nil, nil)

	done := make(chan error, 1)
	go func() { done <- src.Start(context.Background()) }()

	var events []domain.ScanEvent
	for ev := range src.Events() {
		events = append(events, ev)
	}
	require.NoError(t, <-done)
	require.Len(t, events, 5)

	first := events[0]
	assert.Equal(t, domain.ProtocolWiFi, first.Protocol)
	assert.Equal(t, "aa:bb:cc:00:00:01", first.Identity)
	require.NotNil(t, first.WiFi)
	assert.Equal(t, domain.WiFiFrameDeauth, first.WiFi.Frame)
	assert.Equal(t, "ff:ff:ff:ff:ff:ff", first.WiFi.TargetMAC)
	assert.Equal(t, uint16(7), first.WiFi.ReasonCode)
	assert.Equal(t, epoch, first.Timestamp.UTC(), "event time comes from the capture record")
	assert.Equal(t, epoch.Add(4*time.Second), events[4].Timestamp.UTC())
}

func TestReplayStampsObserverLocation(t *testing.T) {
	bssid := [6]byte{0xAA, 0xBB, 0xCC, 0x00, 0x00, 0x03}
	src := New(writeCapture(t, [][]byte{deauthFrame(bssid, 7)}), 16,
		geo.NewStaticProvider(40.4168, -3.7038), nil)

	done := make(chan error, 1)
	go func() { done <- src.Start(context.Background()) }()

	var events []domain.ScanEvent
	for ev := range src.Events() {
		events = append(events, ev)
	}
	require.NoError(t, <-done)
	require.Len(t, events, 1)

	assert.True(t, events[0].HasFix, "replayed frames carry the observer fix")
	assert.Equal(t, 40.4168, events[0].Latitude)
	assert.Equal(t, -3.7038, events[0].Longitude)
}

func TestReplaySkipsUndecodableFrames(t *testing.T) {
	bssid := [6]byte{0xAA, 0xBB, 0xCC, 0x00, 0x00, 0x02}
	src := New(writeCapture(t, [][]byte{
		{0x01, 0x02, 0x03}, // far too short for a management frame
		deauthFrame(bssid, 1),
	}), 16, nil, nil)

	done := make(chan error, 1)
	go func() { done <- src.Start(context.Background()) }()

	var events []domain.ScanEvent
	for ev := range src.Events() {
		events = append(events, ev)
	}
	require.NoError(t, <-done)
	assert.Len(t, events, 1)
}

func TestReplayMissingFile(t *testing.T) {
	src := New(filepath.Join(t.TempDir(), "nope.pcap"), 1, nil, nil)
	err := src.Start(context.Background())
	assert.Error(t, err)
}
