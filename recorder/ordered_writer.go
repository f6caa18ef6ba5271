package recorder

import (
	"fmt"
	"math"
)

type writerPhase int

const (
	phaseOpen writerPhase = iota
	phaseHeader
	phaseTrailer
	phaseClosed
)

func (p writerPhase) String() string {
	switch p {
	case phaseOpen:
		return "open"
	case phaseHeader:
		return "header_written"
	case phaseTrailer:
		return "trailer_written"
	case phaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OrderedWriter enforces header, packets, trailer, close on any Writer and
// rejects packets whose decode timestamps go backwards.
type OrderedWriter struct {
	w       Writer
	phase   writerPhase
	lastDTS int64
	packets int
	bytes   int64
}

func NewOrderedWriter(w Writer) *OrderedWriter {
	return &OrderedWriter{w: w, lastDTS: math.MinInt64}
}

func (o *OrderedWriter) WriteHeader() error {
	if o.phase != phaseOpen {
		return fmt.Errorf("%w: header in phase %s", ErrWriteOrder, o.phase)
	}
	if err := o.w.WriteHeader(); err != nil {
		return wrapKind(ErrHeaderWriteFailed, err)
	}
	o.phase = phaseHeader
	return nil
}

func (o *OrderedWriter) WritePacket(pkt Packet) error {
	if o.phase != phaseHeader {
		return fmt.Errorf("%w: packet in phase %s", ErrWriteOrder, o.phase)
	}
	if pkt.DTS <= o.lastDTS {
		return fmt.Errorf("%w: dts %d after %d", ErrWriteOrder, pkt.DTS, o.lastDTS)
	}
	if err := o.w.WritePacket(pkt); err != nil {
		return wrapKind(ErrWriteFailed, err)
	}
	o.lastDTS = pkt.DTS
	o.packets++
	o.bytes += int64(len(pkt.Data))
	return nil
}

func (o *OrderedWriter) WriteTrailer() error {
	if o.phase != phaseHeader {
		return fmt.Errorf("%w: trailer in phase %s", ErrWriteOrder, o.phase)
	}
	o.phase = phaseTrailer
	return wrapKind(ErrWriteFailed, o.w.WriteTrailer())
}

func (o *OrderedWriter) StreamTimeBase() Rational { return o.w.StreamTimeBase() }
func (o *OrderedWriter) StreamIndex() int         { return o.w.StreamIndex() }

// HeaderWritten reports whether the container header is on disk.
func (o *OrderedWriter) HeaderWritten() bool {
	return o.phase == phaseHeader || o.phase == phaseTrailer
}

// TrailerPending reports whether a header was written without a trailer.
func (o *OrderedWriter) TrailerPending() bool {
	return o.phase == phaseHeader
}

func (o *OrderedWriter) Packets() int { return o.packets }
func (o *OrderedWriter) Bytes() int64 { return o.bytes }

func (o *OrderedWriter) Close() error {
	if o.phase == phaseClosed {
		return nil
	}
	o.phase = phaseClosed
	return o.w.Close()
}
