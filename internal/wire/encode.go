package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
)

// EncodeMessage serializes a message body: the 3-byte type tag followed
// by the type-specific layout. These are exactly the bytes that feed the
// refhash, so the encoding must stay byte-stable.
func EncodeMessage(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(msg.Tag())

	switch m := msg.(type) {
	case *Post:
		if len(m.Body) > MaxBodyLen {
			return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLong, len(m.Body))
		}
		if err := writeString16(&buf, m.Title); err != nil {
			return nil, err
		}
		if err := writeString16(&buf, m.Body); err != nil {
			return nil, err
		}
		if err := writeRefhash(&buf, m.Reference); err != nil {
			return nil, err
		}
		if err := writeString16(&buf, m.Topic); err != nil {
			return nil, err
		}
		tags := canonicalTags(m.Tags)
		if len(tags) > 255 {
			return nil, fmt.Errorf("wire: too many tags: %d", len(tags))
		}
		buf.WriteByte(byte(len(tags)))
		for _, tag := range tags {
			if err := writeString8(&buf, tag); err != nil {
				return nil, err
			}
		}

	case *Connection:
		if err := writeString8(&buf, m.TLD); err != nil {
			return nil, err
		}
		if err := writeString8(&buf, m.Subdomain); err != nil {
			return nil, err
		}
		buf.WriteByte(byte(m.Type))

	case *Moderation:
		if err := writeRefhash(&buf, m.Reference); err != nil {
			return nil, err
		}
		buf.WriteByte(byte(m.Type))

	case *Media:
		if err := writeString8(&buf, m.Filename); err != nil {
			return nil, err
		}
		if err := writeString16(&buf, m.MimeType); err != nil {
			return nil, err
		}
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(m.Content)))
		buf.Write(n[:])
		buf.Write(m.Content)

	default:
		return nil, fmt.Errorf("wire: unknown message type %T", msg)
	}

	return buf.Bytes(), nil
}

// EncodeEnvelope serializes a complete envelope: the fixed header
// followed by the length-prefixed message body produced by EncodeMessage.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	msgBytes, err := EncodeMessage(env.Message)
	if err != nil {
		return nil, err
	}
	if len(msgBytes) > maxMessageLen {
		return nil, fmt.Errorf("wire: message too long: %d bytes", len(msgBytes))
	}

	var buf bytes.Buffer
	buf.WriteByte(envelopeVersion)

	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], env.NameIndex)
	buf.Write(idx[:])

	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], uint32(env.CreatedAt.Unix()))
	buf.Write(ts[:])

	if err := writeString8(&buf, env.NetworkID); err != nil {
		return nil, err
	}
	if len(env.Additional) > 0xffff {
		return nil, fmt.Errorf("wire: additional data too long: %d", len(env.Additional))
	}
	var al [2]byte
	binary.BigEndian.PutUint16(al[:], uint16(len(env.Additional)))
	buf.Write(al[:])
	buf.Write(env.Additional)

	var ml [4]byte
	binary.BigEndian.PutUint32(ml[:], uint32(len(msgBytes)))
	buf.Write(ml[:])
	buf.Write(msgBytes)

	return buf.Bytes(), nil
}

// canonicalTags sorts and dedupes a tag list. Tag order carries no
// meaning, and the encoded bytes feed the refhash, so two encodings of
// the same tag set must produce identical bytes regardless of how the
// tags were supplied or stored.
func canonicalTags(tags []string) []string {
	if len(tags) < 2 {
		return tags
	}
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	out := sorted[:1]
	for _, tag := range sorted[1:] {
		if tag != out[len(out)-1] {
			out = append(out, tag)
		}
	}
	return out
}

func writeString8(buf *bytes.Buffer, s string) error {
	if len(s) > 255 {
		return fmt.Errorf("wire: field too long for u8 length prefix: %d", len(s))
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func writeString16(buf *bytes.Buffer, s string) error {
	if len(s) > 0xffff {
		return fmt.Errorf("wire: field too long for u16 length prefix: %d", len(s))
	}
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
	return nil
}

// writeRefhash emits a presence byte followed by the 32 raw digest bytes
// when a reference is present.
func writeRefhash(buf *bytes.Buffer, refhash string) error {
	if refhash == "" {
		buf.WriteByte(0)
		return nil
	}
	raw, err := hex.DecodeString(refhash)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("wire: invalid refhash %q", refhash)
	}
	buf.WriteByte(1)
	buf.Write(raw)
	return nil
}
