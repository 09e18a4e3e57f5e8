package packet

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPacket(t *testing.T, transport gopacket.SerializableLayer, network *layers.IPv4, payload []byte, ts time.Time) gopacket.Packet {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	if nl, ok := transport.(interface {
		SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
	}); ok {
		require.NoError(t, nl.SetNetworkLayerForChecksum(network))
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, network, transport, gopacket.Payload(payload)))

	p := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
	p.Metadata().Timestamp = ts
	return p
}

func ipv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
}

func TestExtractTCP(t *testing.T) {
	e := NewFeatureExtractor()
	start := time.Unix(1700000000, 0)

	tcp := &layers.TCP{SrcPort: 40000, DstPort: 443, SYN: true, ACK: true}
	first := buildPacket(t, tcp, ipv4(layers.IPProtocolTCP), []byte("hello"), start)
	second := buildPacket(t, tcp, ipv4(layers.IPProtocolTCP), []byte("hello"), start.Add(250*time.Millisecond))

	s, err := e.Extract(first)
	require.NoError(t, err)
	assert.Equal(t, "tcp", s.Name)
	assert.False(t, s.Has(InterArrivalTime), "first packet has no predecessor")

	v, _ := s.Value(TCPFlags)
	assert.Equal(t, 3.0, v)
	v, _ = s.Value(DstPort)
	assert.Equal(t, 443.0, v)
	v, _ = s.Value(IPTTL)
	assert.Equal(t, 64.0, v)
	v, _ = s.Value(PayloadSize)
	assert.Equal(t, 5.0, v)

	s = e.ExtractPacket(second)
	v, ok := s.Value(InterArrivalTime)
	require.True(t, ok)
	assert.InDelta(t, 0.25, v, 1e-9)
}

func TestExtractUDP(t *testing.T) {
	e := NewFeatureExtractor()
	udp := &layers.UDP{SrcPort: 40001, DstPort: 40002}
	s := e.ExtractPacket(buildPacket(t, udp, ipv4(layers.IPProtocolUDP), []byte{1, 2, 3}, time.Unix(1, 0)))

	assert.Equal(t, "udp", s.Name)
	v, _ := s.Value(Protocol)
	assert.Equal(t, 17.0, v)
	assert.False(t, s.Has(TCPFlags), "udp packets carry no tcp flags")
}

func TestExtractRejectsOtherInput(t *testing.T) {
	_, err := NewFeatureExtractor().Extract("not a packet")
	assert.Error(t, err)
}

func TestFeatureNames(t *testing.T) {
	assert.Len(t, NewFeatureExtractor().FeatureNames(), 8)
}

func TestExtractRejectsTruncated(t *testing.T) {
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 443, SYN: true}
	full := buildPacket(t, tcp, ipv4(layers.IPProtocolTCP), nil, time.Unix(1, 0))

	// Ethernet and IPv4 headers survive, the TCP header is cut after 5 bytes.
	truncated := gopacket.NewPacket(full.Data()[:14+20+5], layers.LayerTypeEthernet, gopacket.Default)
	require.NotNil(t, truncated.ErrorLayer())

	_, err := NewFeatureExtractor().Extract(truncated)
	assert.ErrorIs(t, err, ErrUndecodable)
}
