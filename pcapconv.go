// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package svcdebug

import (
	"io"

	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"github.com/siemens/svcdebug/api"
	"github.com/siemens/svcdebug/pcapng"
)

// PcapToPcapng converts a classic pcap packet stream into a pcapng stream on
// the fly, flushing each packet immediately. The section header block
// comment of the pcapng stream describes the capture host, the network
// interface, and the capture filter.
func PcapToPcapng(sink io.Writer, src io.Reader, host *api.Host, nif string, filter string) error {
	r, err := pcapgo.NewReader(src)
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return errors.Wrap(err, "invalid pcap stream")
	}
	editor := pcapng.NewStreamEditor(sink, host, nif, filter)
	w, err := pcapgo.NewNgWriterInterface(editor, pcapgo.NgInterface{
		Name:       nif,
		Filter:     filter,
		LinkType:   r.LinkType(),
		SnapLength: r.Snaplen(),
	}, pcapgo.NgWriterOptions{
		SectionInfo: pcapgo.NgSectionInfo{
			Application: "svcdebug " + SemVersion,
		},
	})
	if err != nil {
		return errors.Wrap(err, "cannot start pcapng stream")
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for {
		data, ci, err := r.ReadPacketData()
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return w.Flush()
			}
			_ = w.Flush()
			return errors.Wrap(err, "invalid pcap stream")
		}
		ci.InterfaceIndex = 0
		if err := w.WritePacket(ci, data); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}
