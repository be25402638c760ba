package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// A blob may begin with a subdomain sector: a magic prefix followed by
// fixed-size registration records, padded out to a fixed region so the
// writer can rewrite it in place without shifting the envelope log that
// follows.
var sectorMagic = [5]byte{0xf0, 'S', 'U', 'B', 0x01}

const (
	subdomainNameLen = 24
	subdomainKeyLen  = 64
	// 90 bytes: name + u16 index + public key.
	subdomainRecordLen = subdomainNameLen + 2 + subdomainKeyLen

	// MaxSubdomains bounds the sector capacity; the region is always
	// written at full size.
	MaxSubdomains = 64

	// SectorSize is the fixed byte length of the subdomain sector region
	// at the head of a blob that carries one.
	SectorSize = len(sectorMagic) + 2 + MaxSubdomains*subdomainRecordLen
)

// ErrSectorFull is returned when encoding more than MaxSubdomains records.
var ErrSectorFull = errors.New("wire: subdomain sector full")

// Subdomain is one registration record in the sector. Index is the
// nameIndex envelopes use to address this subdomain (0 is reserved for
// the TLD itself; sector records start at 1).
type Subdomain struct {
	Name      string
	Index     uint16
	PublicKey string // multibase-encoded public key
}

// EncodeSubdomainSector serializes registration records into a full
// fixed-size sector, zero-padded past the last record.
func EncodeSubdomainSector(subs []Subdomain) ([]byte, error) {
	if len(subs) > MaxSubdomains {
		return nil, fmt.Errorf("%w: %d records", ErrSectorFull, len(subs))
	}

	buf := make([]byte, SectorSize)
	copy(buf, sectorMagic[:])
	binary.BigEndian.PutUint16(buf[len(sectorMagic):], uint16(len(subs)))

	off := len(sectorMagic) + 2
	for _, sub := range subs {
		if len(sub.Name) > subdomainNameLen {
			return nil, fmt.Errorf("wire: subdomain name %q too long", sub.Name)
		}
		if len(sub.PublicKey) > subdomainKeyLen {
			return nil, fmt.Errorf("wire: subdomain key for %q too long", sub.Name)
		}
		copy(buf[off:], sub.Name)
		binary.BigEndian.PutUint16(buf[off+subdomainNameLen:], sub.Index)
		copy(buf[off+subdomainNameLen+2:], sub.PublicKey)
		off += subdomainRecordLen
	}
	return buf, nil
}

// SniffSubdomainSector peeks at the stream and reports whether it starts
// with the sector magic, without consuming any bytes. A short stream is
// simply not a sector.
func SniffSubdomainSector(r *bufio.Reader) bool {
	head, err := r.Peek(len(sectorMagic))
	if err != nil {
		return false
	}
	return bytes.Equal(head, sectorMagic[:])
}

// ReadSubdomainSector consumes a full sector region from the stream and
// returns its registration records.
func ReadSubdomainSector(r *bufio.Reader) ([]Subdomain, error) {
	sector := make([]byte, SectorSize)
	if _, err := io.ReadFull(r, sector); err != nil {
		return nil, fmt.Errorf("%w: read subdomain sector: %v", ErrMalformed, err)
	}
	return ParseSubdomainSector(sector)
}

// ParseSubdomainSector decodes a sector region already in memory.
func ParseSubdomainSector(sector []byte) ([]Subdomain, error) {
	if len(sector) < SectorSize || !bytes.Equal(sector[:len(sectorMagic)], sectorMagic[:]) {
		return nil, fmt.Errorf("%w: bad subdomain sector header", ErrMalformed)
	}
	count := int(binary.BigEndian.Uint16(sector[len(sectorMagic):]))
	if count > MaxSubdomains {
		return nil, fmt.Errorf("%w: sector claims %d records", ErrMalformed, count)
	}

	subs := make([]Subdomain, 0, count)
	off := len(sectorMagic) + 2
	for i := 0; i < count; i++ {
		rec := sector[off : off+subdomainRecordLen]
		subs = append(subs, Subdomain{
			Name:      string(bytes.TrimRight(rec[:subdomainNameLen], "\x00")),
			Index:     binary.BigEndian.Uint16(rec[subdomainNameLen : subdomainNameLen+2]),
			PublicKey: string(bytes.TrimRight(rec[subdomainNameLen+2:], "\x00")),
		})
		off += subdomainRecordLen
	}
	return subs, nil
}
