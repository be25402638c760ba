// Package wire implements the binary envelope format used by identity
// blobs: typed message encoding/decoding, content-hash (refhash)
// derivation, and the fixed-layout subdomain sector that may prefix a
// blob.
package wire

import (
	"errors"
	"time"
)

// Message type tags. Every message body on the wire starts with one of
// these 3-byte tags.
const (
	TagPost       = "PST"
	TagConnection = "CNT"
	TagModeration = "MOD"
	TagMedia      = "MDA"
)

// envelopeVersion is the only wire version currently produced or accepted.
const envelopeVersion = 1

// MaxBodyLen is the maximum post body length in bytes.
const MaxBodyLen = 4000

var (
	// ErrMalformed is wrapped by all decode failures caused by invalid
	// bytes (as opposed to a clean end of stream).
	ErrMalformed = errors.New("wire: malformed record")

	// ErrBodyTooLong is returned when encoding a post whose body exceeds
	// MaxBodyLen.
	ErrBodyTooLong = errors.New("wire: post body too long")
)

// ConnectionType distinguishes follow edges from block edges.
type ConnectionType uint8

const (
	Follow ConnectionType = 1
	Block  ConnectionType = 2
)

// ModerationType distinguishes likes from pins.
type ModerationType uint8

const (
	Like ModerationType = 1
	Pin  ModerationType = 2
)

// Message is one of Post, Connection, Moderation, or Media.
type Message interface {
	// Tag returns the 3-byte wire tag for this message type.
	Tag() string
}

// Post is a top-level post, a reply (Reference set), or a system record
// (Topic starting with "."). The three counters are derived by the index
// from later replies and moderations; they are never part of the signed
// wire payload.
type Post struct {
	Title     string
	Body      string
	Reference string // refhash of the parent post, empty for top-level posts
	Topic     string
	Tags      []string

	ReplyCount int64
	LikeCount  int64
	PinCount   int64
}

func (*Post) Tag() string { return TagPost }

// Connection is a directed follow/block edge from the envelope's owner
// to another identity.
type Connection struct {
	TLD       string
	Subdomain string
	Type      ConnectionType
}

func (*Connection) Tag() string { return TagConnection }

// Moderation is a like or pin of the post identified by Reference.
type Moderation struct {
	Reference string // refhash of the target post
	Type      ModerationType
}

func (*Moderation) Tag() string { return TagModeration }

// Media is an opaque binary attachment.
type Media struct {
	Filename string
	MimeType string
	Content  []byte
}

func (*Media) Tag() string { return TagMedia }

// Envelope is the unit of blob storage: one signed message plus identity
// and timestamp metadata. ID is the local index surrogate key and is zero
// until the envelope has been inserted.
type Envelope struct {
	ID         int64
	TLD        string
	Subdomain  string // empty for the TLD identity itself
	NameIndex  uint16 // 0 = the TLD, 1..N = registered subdomains
	NetworkID  string // opaque peer-assigned id
	Refhash    string // lowercase hex, see Refhash
	CreatedAt  time.Time
	Message    Message
	Additional []byte // opaque additional data, carried verbatim
}

// NewEnvelope builds an envelope for a freshly authored message, stamping
// it with the current second-truncated time and its refhash.
func NewEnvelope(tld, subdomain string, nameIndex uint16, msg Message) (*Envelope, error) {
	now := time.Now().UTC().Truncate(time.Second)
	raw, err := EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		TLD:       tld,
		Subdomain: subdomain,
		NameIndex: nameIndex,
		Refhash:   Refhash(tld, now, raw),
		CreatedAt: now,
		Message:   msg,
	}, nil
}
