// Package pcap turns capture files and live interfaces into packet samples.
package pcap

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	gio "github.com/hed1ad/goiforest/pkg/io"
	"github.com/hed1ad/goiforest/pkg/io/packet"
	"github.com/hed1ad/goiforest/pkg/sample"
)

var log = logrus.WithField("component", "pcap")

// Stats counts what a Reader has seen so far.
type Stats struct {
	Source  string
	Filter  string
	Packets int64
	Skipped int64
}

// Reader yields one sample per decodable packet. Packets gopacket cannot
// decode are counted in Stats and dropped.
type Reader struct {
	handle    *pcap.Handle
	extractor *packet.FeatureExtractor
	source    string
	filter    string
	live      bool

	packets atomic.Int64
	skipped atomic.Int64
}

var _ gio.Reader = (*Reader)(nil)

// NewFileReader opens a capture file.
func NewFileReader(filename string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open capture %s", filename)
	}
	return newReader(handle, filename, false), nil
}

// NewLiveReader captures from iface.
func NewLiveReader(iface string, snaplen int32, promisc bool, timeout time.Duration) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "capture on %s", iface)
	}
	return newReader(handle, iface, true), nil
}

func newReader(handle *pcap.Handle, source string, live bool) *Reader {
	return &Reader{
		handle:    handle,
		extractor: packet.NewFeatureExtractor(),
		source:    source,
		live:      live,
	}
}

// SetFilter applies a BPF filter. Packets already read are not affected.
func (r *Reader) SetFilter(expr string) error {
	if err := r.handle.SetBPFFilter(expr); err != nil {
		return errors.Wrapf(err, "filter %q on %s", expr, r.source)
	}
	r.filter = expr
	return nil
}

// Read returns the samples of every remaining packet. On a live reader it
// blocks until the capture ends.
func (r *Reader) Read() ([]sample.Sample, error) {
	var data []sample.Sample
	for p := range r.packetSource().Packets() {
		if s, ok := r.decode(p); ok {
			data = append(data, s)
		}
	}

	stats := r.Stats()
	log.WithFields(logrus.Fields{
		"source":  stats.Source,
		"filter":  stats.Filter,
		"packets": stats.Packets,
		"skipped": stats.Skipped,
	}).Info("capture read")

	return data, nil
}

// Stream sends samples until the capture ends or ctx is done.
func (r *Reader) Stream(ctx context.Context) (<-chan sample.Sample, error) {
	out := make(chan sample.Sample, 1000)
	packets := r.packetSource().Packets()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-packets:
				if !ok {
					return
				}
				s, ok := r.decode(p)
				if !ok {
					continue
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *Reader) packetSource() *gopacket.PacketSource {
	return gopacket.NewPacketSource(r.handle, r.handle.LinkType())
}

func (r *Reader) decode(p gopacket.Packet) (sample.Sample, bool) {
	r.packets.Add(1)
	s, err := r.extractor.Extract(p)
	if err != nil {
		r.skipped.Add(1)
		log.WithError(err).WithField("source", r.source).Debug("skipping packet")
		return sample.Sample{}, false
	}
	return s, true
}

// Stats returns the packet counters and the capture settings.
func (r *Reader) Stats() Stats {
	return Stats{
		Source:  r.source,
		Filter:  r.filter,
		Packets: r.packets.Load(),
		Skipped: r.skipped.Load(),
	}
}

// Live reports whether the reader captures from an interface.
func (r *Reader) Live() bool {
	return r.live
}

// Close releases the capture handle.
func (r *Reader) Close() error {
	r.handle.Close()
	return nil
}
