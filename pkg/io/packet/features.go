// Package packet turns decoded network packets into named feature samples.
package packet

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	gio "github.com/hed1ad/goiforest/pkg/io"
	"github.com/hed1ad/goiforest/pkg/sample"
)

// Feature names produced by the extractor. Transport-specific features are
// only present when the packet carries that transport.
const (
	PacketSize       = "packet_size"
	InterArrivalTime = "inter_arrival_time"
	Protocol         = "protocol"
	SrcPort          = "src_port"
	DstPort          = "dst_port"
	TCPFlags         = "tcp_flags"
	IPTTL            = "ip_ttl"
	PayloadSize      = "payload_size"
)

// ErrUndecodable is returned by Extract for packets gopacket failed to decode.
var ErrUndecodable = errors.New("packet: undecodable")

// FeatureExtractor extracts numerical features from network packets.
// It keeps the previous timestamp, so one extractor serves one capture.
type FeatureExtractor struct {
	lastTimestamp time.Time
}

// NewFeatureExtractor creates a new packet feature extractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

var _ gio.FeatureExtractor = (*FeatureExtractor)(nil)

// Extract converts a gopacket.Packet to a sample. Packets carrying a decode
// error layer are rejected with ErrUndecodable.
func (e *FeatureExtractor) Extract(data any) (sample.Sample, error) {
	packet, ok := data.(gopacket.Packet)
	if !ok {
		return sample.Sample{}, fmt.Errorf("packet: unsupported input %T", data)
	}
	if packet == nil {
		return sample.Sample{}, errors.New("packet: nil packet")
	}
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return sample.Sample{}, fmt.Errorf("%w: %v", ErrUndecodable, errLayer.Error())
	}
	return e.ExtractPacket(packet), nil
}

// ExtractPacket converts a packet to a sample named after its transport.
func (e *FeatureExtractor) ExtractPacket(packet gopacket.Packet) sample.Sample {
	features := []sample.Feature{
		{Name: PacketSize, Value: float64(len(packet.Data()))},
	}
	name := "other"

	// Inter-arrival time
	if metadata := packet.Metadata(); metadata != nil && !metadata.Timestamp.IsZero() {
		if !e.lastTimestamp.IsZero() {
			features = append(features, sample.Feature{
				Name:  InterArrivalTime,
				Value: metadata.Timestamp.Sub(e.lastTimestamp).Seconds(),
			})
		}
		e.lastTimestamp = metadata.Timestamp
	}

	// Protocol
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		name = "tcp"
		features = append(features,
			sample.Feature{Name: Protocol, Value: 6},
			sample.Feature{Name: SrcPort, Value: float64(tcp.SrcPort)},
			sample.Feature{Name: DstPort, Value: float64(tcp.DstPort)},
			sample.Feature{Name: TCPFlags, Value: encodeTCPFlags(tcp)},
		)
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		name = "udp"
		features = append(features,
			sample.Feature{Name: Protocol, Value: 17},
			sample.Feature{Name: SrcPort, Value: float64(udp.SrcPort)},
			sample.Feature{Name: DstPort, Value: float64(udp.DstPort)},
		)
	} else if packet.Layer(layers.LayerTypeICMPv4) != nil {
		name = "icmp"
		features = append(features, sample.Feature{Name: Protocol, Value: 1})
	}

	// IP TTL
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip := ipLayer.(*layers.IPv4)
		features = append(features, sample.Feature{Name: IPTTL, Value: float64(ip.TTL)})
	}

	// Payload size
	if appLayer := packet.ApplicationLayer(); appLayer != nil {
		features = append(features, sample.Feature{Name: PayloadSize, Value: float64(len(appLayer.Payload()))})
	}

	// names are constants appended at most once each
	return sample.MustNew(name, features...)
}

// FeatureNames returns the names of extracted features.
func (e *FeatureExtractor) FeatureNames() []string {
	return []string{
		PacketSize,
		InterArrivalTime,
		Protocol,
		SrcPort,
		DstPort,
		TCPFlags,
		IPTTL,
		PayloadSize,
	}
}

// encodeTCPFlags converts TCP flags to a numeric value.
func encodeTCPFlags(tcp *layers.TCP) float64 {
	var flags float64
	if tcp.SYN {
		flags += 1
	}
	if tcp.ACK {
		flags += 2
	}
	if tcp.FIN {
		flags += 4
	}
	if tcp.RST {
		flags += 8
	}
	if tcp.PSH {
		flags += 16
	}
	if tcp.URG {
		flags += 32
	}
	return flags
}
