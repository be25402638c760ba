package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// maxMessageLen bounds the u32 message length prefix. The encoder never
// produces anything close to this, so a larger value means a corrupt or
// hostile stream and must fail before the buffer is allocated.
const maxMessageLen = 16 << 20

// Decoder reads envelopes lazily from a blob byte stream. Each call to
// Next yields one envelope; a clean end of stream returns io.EOF, while
// malformed bytes return an error wrapping ErrMalformed. Envelopes
// already returned remain valid either way, so a caller can apply records
// up to the point of failure and stop.
type Decoder struct {
	r   *bufio.Reader
	tld string
}

// NewDecoder wraps a buffered reader over the blob owned by tld. The TLD
// is supplied by the caller because it names the stream and is part of
// every refhash but is not repeated on the wire.
func NewDecoder(r *bufio.Reader, tld string) *Decoder {
	return &Decoder{r: r, tld: tld}
}

// Next decodes the next envelope in the stream. It returns io.EOF when
// the stream ends exactly on a record boundary.
func (d *Decoder) Next() (*Envelope, error) {
	version, err := d.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: read version: %v", ErrMalformed, err)
	}
	if version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrMalformed, version)
	}

	nameIndex, err := d.readUint16()
	if err != nil {
		return nil, err
	}
	ts, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	networkID, err := d.readString8()
	if err != nil {
		return nil, err
	}
	additional, err := d.readBytes16()
	if err != nil {
		return nil, err
	}

	msgLen, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	if msgLen > maxMessageLen {
		return nil, fmt.Errorf("%w: message length %d", ErrMalformed, msgLen)
	}
	msgBytes := make([]byte, msgLen)
	if _, err := io.ReadFull(d.r, msgBytes); err != nil {
		return nil, fmt.Errorf("%w: read message body: %v", ErrMalformed, err)
	}

	msg, err := DecodeMessage(msgBytes)
	if err != nil {
		return nil, err
	}

	createdAt := time.Unix(int64(ts), 0).UTC()
	return &Envelope{
		TLD:        d.tld,
		NameIndex:  nameIndex,
		NetworkID:  networkID,
		Refhash:    Refhash(d.tld, createdAt, msgBytes),
		CreatedAt:  createdAt,
		Message:    msg,
		Additional: additional,
	}, nil
}

// DecodeMessage parses a message body previously produced by
// EncodeMessage (type tag + typed layout).
func DecodeMessage(raw []byte) (Message, error) {
	if len(raw) < 3 {
		return nil, fmt.Errorf("%w: message shorter than type tag", ErrMalformed)
	}
	tag := string(raw[:3])
	body := raw[3:]

	switch tag {
	case TagPost:
		return decodePost(body)
	case TagConnection:
		return decodeConnection(body)
	case TagModeration:
		return decodeModeration(body)
	case TagMedia:
		return decodeMedia(body)
	}
	return nil, fmt.Errorf("%w: unknown message tag %q", ErrMalformed, tag)
}

func decodePost(body []byte) (*Post, error) {
	p := &Post{}
	var err error
	if p.Title, body, err = takeString16(body); err != nil {
		return nil, err
	}
	if p.Body, body, err = takeString16(body); err != nil {
		return nil, err
	}
	if len(p.Body) > MaxBodyLen {
		return nil, fmt.Errorf("%w: post body of %d bytes", ErrMalformed, len(p.Body))
	}
	if p.Reference, body, err = takeRefhash(body); err != nil {
		return nil, err
	}
	if p.Topic, body, err = takeString16(body); err != nil {
		return nil, err
	}
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: missing tag count", ErrMalformed)
	}
	count := int(body[0])
	body = body[1:]
	for i := 0; i < count; i++ {
		var tag string
		if tag, body, err = takeString8(body); err != nil {
			return nil, err
		}
		p.Tags = append(p.Tags, tag)
	}
	return p, nil
}

func decodeConnection(body []byte) (*Connection, error) {
	c := &Connection{}
	var err error
	if c.TLD, body, err = takeString8(body); err != nil {
		return nil, err
	}
	if c.Subdomain, body, err = takeString8(body); err != nil {
		return nil, err
	}
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: missing connection type", ErrMalformed)
	}
	c.Type = ConnectionType(body[0])
	if c.Type != Follow && c.Type != Block {
		return nil, fmt.Errorf("%w: connection type %d", ErrMalformed, body[0])
	}
	return c, nil
}

func decodeModeration(body []byte) (*Moderation, error) {
	m := &Moderation{}
	var err error
	if m.Reference, body, err = takeRefhash(body); err != nil {
		return nil, err
	}
	if m.Reference == "" {
		return nil, fmt.Errorf("%w: moderation without reference", ErrMalformed)
	}
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: missing moderation type", ErrMalformed)
	}
	m.Type = ModerationType(body[0])
	if m.Type != Like && m.Type != Pin {
		return nil, fmt.Errorf("%w: moderation type %d", ErrMalformed, body[0])
	}
	return m, nil
}

func decodeMedia(body []byte) (*Media, error) {
	m := &Media{}
	var err error
	if m.Filename, body, err = takeString8(body); err != nil {
		return nil, err
	}
	if m.MimeType, body, err = takeString16(body); err != nil {
		return nil, err
	}
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: missing media length", ErrMalformed)
	}
	n := binary.BigEndian.Uint32(body)
	body = body[4:]
	if uint32(len(body)) < n {
		return nil, fmt.Errorf("%w: media truncated", ErrMalformed)
	}
	m.Content = append([]byte(nil), body[:n]...)
	return m, nil
}

func (d *Decoder) readUint16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: read u16: %v", ErrMalformed, err)
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (d *Decoder) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: read u32: %v", ErrMalformed, err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (d *Decoder) readString8() (string, error) {
	n, err := d.r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("%w: read length: %v", ErrMalformed, err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return "", fmt.Errorf("%w: read string: %v", ErrMalformed, err)
	}
	return string(b), nil
}

func (d *Decoder) readBytes16() ([]byte, error) {
	n, err := d.readUint16()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return nil, fmt.Errorf("%w: read bytes: %v", ErrMalformed, err)
	}
	return b, nil
}

func takeString8(body []byte) (string, []byte, error) {
	if len(body) < 1 {
		return "", nil, fmt.Errorf("%w: missing length byte", ErrMalformed)
	}
	n := int(body[0])
	body = body[1:]
	if len(body) < n {
		return "", nil, fmt.Errorf("%w: string truncated", ErrMalformed)
	}
	return string(body[:n]), body[n:], nil
}

func takeString16(body []byte) (string, []byte, error) {
	if len(body) < 2 {
		return "", nil, fmt.Errorf("%w: missing length prefix", ErrMalformed)
	}
	n := int(binary.BigEndian.Uint16(body))
	body = body[2:]
	if len(body) < n {
		return "", nil, fmt.Errorf("%w: string truncated", ErrMalformed)
	}
	return string(body[:n]), body[n:], nil
}

func takeRefhash(body []byte) (string, []byte, error) {
	if len(body) < 1 {
		return "", nil, fmt.Errorf("%w: missing refhash presence byte", ErrMalformed)
	}
	present := body[0]
	body = body[1:]
	if present == 0 {
		return "", body, nil
	}
	if len(body) < 32 {
		return "", nil, fmt.Errorf("%w: refhash truncated", ErrMalformed)
	}
	return hex.EncodeToString(body[:32]), body[32:], nil
}
