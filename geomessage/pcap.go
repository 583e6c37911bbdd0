package geomessage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapngMagic is the block type of a pcapng section header.
const pcapngMagic = 0x0A0D0D0A

type packetSource interface {
	LinkType() layers.LinkType
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

// CaptureStats summarizes what a capture contributed to a log.
type CaptureStats struct {
	Packets   int `json:"packets"`
	Datagrams int `json:"datagrams"`
	Skipped   int `json:"skipped"`
	Records   int `json:"records"`
}

// openCapture chooses a pcap or pcapng reader from the leading magic.
func openCapture(r io.Reader) (packetSource, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: capture header: %v", ErrInvalidEventLog, err)
	}

	if binary.LittleEndian.Uint32(header) == pcapngMagic {
		reader, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEventLog, err)
		}
		return reader, nil
	}

	reader, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEventLog, err)
	}
	return reader, nil
}

// ReadPcap builds an event log from the UDP payloads of a packet capture,
// in capture order. Only datagrams addressed to port are used, or all of
// them when port is 0. Payloads that are not geomessage documents are
// skipped and counted.
func ReadPcap(r io.Reader, port int) (*Log, CaptureStats, error) {
	var stats CaptureStats

	source, err := openCapture(r)
	if err != nil {
		return nil, stats, err
	}

	packets := gopacket.NewPacketSource(source, source.LinkType())
	packets.Lazy = true
	packets.NoCopy = true

	log := &Log{Root: RootElement}
	for {
		packet, err := packets.NextPacket()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("%w: %v", ErrInvalidEventLog, err)
		}
		stats.Packets++

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if port != 0 && int(udp.DstPort) != port {
			continue
		}
		stats.Datagrams++

		parsed, err := Parse(bytes.NewReader(udp.Payload))
		if err != nil {
			stats.Skipped++
			continue
		}
		log.Records = append(log.Records, parsed.Records...)
	}

	stats.Records = len(log.Records)
	return log, stats, nil
}

// ReadPcapFile reads a pcap or pcapng file with ReadPcap.
func ReadPcapFile(filename string, port int) (*Log, CaptureStats, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, CaptureStats{}, fmt.Errorf("failed to open capture %s: %w", filename, err)
	}
	defer file.Close()

	log, stats, err := ReadPcap(file, port)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read capture %s: %w", filename, err)
	}
	return log, stats, nil
}
