package normalize

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// oggCapture is the four-byte magic at the start of every Ogg page.
const oggCapture = "OggS"

// oggReader reassembles packets from the first logical bitstream of an Ogg
// file. Pages from other bitstreams are skipped.
//
// Page CRCs are not verified, so a corrupted page body is handed to the
// codec as is. A page header cut short at end of file ends the stream
// quietly, and a packet still waiting for its continuation page at that
// point is dropped without an error. Only a truncated page body is reported.
type oggReader struct {
	r       *bufio.Reader
	serial  uint32
	started bool
	partial []byte
	ready   [][]byte
	eos     bool
}

func newOggReader(r io.Reader) *oggReader {
	return &oggReader{r: bufio.NewReader(r)}
}

// NextPacket returns the next complete packet or io.EOF.
func (o *oggReader) NextPacket() ([]byte, error) {
	for len(o.ready) == 0 {
		if o.eos {
			return nil, io.EOF
		}
		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
	p := o.ready[0]
	o.ready = o.ready[1:]
	return p, nil
}

func (o *oggReader) readPage() error {
	var hdr [27]byte
	if _, err := io.ReadFull(o.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			o.eos = true
			return nil
		}
		return err
	}
	if string(hdr[:4]) != oggCapture {
		return errors.New("ogg: bad capture pattern")
	}
	if hdr[4] != 0 {
		return fmt.Errorf("ogg: unsupported version %d", hdr[4])
	}
	headerType := hdr[5]
	serial := binary.LittleEndian.Uint32(hdr[14:18])

	segTable := make([]byte, hdr[26])
	if _, err := io.ReadFull(o.r, segTable); err != nil {
		return fmt.Errorf("ogg: segment table: %w", err)
	}
	size := 0
	for _, s := range segTable {
		size += int(s)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(o.r, body); err != nil {
		return fmt.Errorf("ogg: page body: %w", err)
	}

	if !o.started {
		o.serial = serial
		o.started = true
	}
	if serial != o.serial {
		return nil
	}

	off := 0
	for _, s := range segTable {
		o.partial = append(o.partial, body[off:off+int(s)]...)
		off += int(s)
		// A lacing value below 255 terminates the packet.
		if s < 255 {
			o.ready = append(o.ready, o.partial)
			o.partial = nil
		}
	}
	if headerType&0x04 != 0 {
		o.eos = true
	}
	return nil
}
