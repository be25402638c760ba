package indexer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hearsay-net/hearsay/internal/dao"
	"github.com/hearsay-net/hearsay/internal/wire"
)

// ScanState is the terminal state of an identity scan.
type ScanState int

const (
	ScanIdle ScanState = iota
	ScanReadingSubdomains
	ScanReadingEnvelopes
	ScanDone
	ScanError
	ScanTimedOut
)

func (s ScanState) String() string {
	switch s {
	case ScanIdle:
		return "IDLE"
	case ScanReadingSubdomains:
		return "READING_SUBDOMAINS"
	case ScanReadingEnvelopes:
		return "READING_ENVELOPES"
	case ScanDone:
		return "DONE"
	case ScanError:
		return "ERROR"
	case ScanTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// ScanIdentity streams a name's blob through the codec and applies every
// decoded envelope to the index. Decode failures end the scan; DAO
// failures on individual envelopes are logged and skipped so one bad
// record cannot wedge the identity.
func (m *Manager) ScanIdentity(ctx context.Context, tld string) (ScanState, error) {
	if _, loaded := m.scanning.LoadOrStore(tld, struct{}{}); loaded {
		return ScanIdle, nil
	}
	defer m.scanning.Delete(tld)

	stream, err := m.opener.OpenBlob(ctx, tld)
	if err != nil {
		return ScanError, fmt.Errorf("indexer: open blob %s: %w", tld, err)
	}
	defer stream.Close()

	ir := newInactivityReader(stream, m.scanTimeout)
	defer ir.Close()
	r := bufio.NewReader(ir)

	state := ScanReadingSubdomains
	if wire.SniffSubdomainSector(r) {
		subs, err := wire.ReadSubdomainSector(r)
		if err != nil {
			return ScanError, fmt.Errorf("indexer: read subdomain sector %s: %w", tld, err)
		}
		if err := m.registry.ReplaceSubdomains(ctx, tld, subs); err != nil {
			return ScanError, fmt.Errorf("indexer: replace subdomains %s: %w", tld, err)
		}
		m.logger.Info("subdomain sector applied", "tld", tld, "subdomains", len(subs))
	}

	state = ScanReadingEnvelopes
	dec := wire.NewDecoder(r, tld)
	applied := 0
	for {
		if ctx.Err() != nil {
			return ScanTimedOut, ctx.Err()
		}
		env, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A record cut off by a stalled peer is an incomplete sync;
			// everything applied so far stands. Any other malformed record
			// poisons the rest of the stream since record boundaries are
			// length-derived.
			if ir.TimedOut() {
				m.logger.Info("scan ended on stalled stream", "tld", tld, "applied", applied)
				return ScanDone, nil
			}
			m.logger.Error("scan aborted on malformed record", "tld", tld, "state", state.String(), "error", err)
			return ScanError, fmt.Errorf("indexer: decode %s: %w", tld, err)
		}

		if err := m.applyEnvelope(ctx, env); err != nil {
			m.logger.Error("envelope skipped", "tld", tld, "refhash", env.Refhash, "error", err)
			continue
		}
		applied++
	}

	m.logger.Info("scan complete", "tld", tld, "applied", applied)
	return ScanDone, nil
}

// applyEnvelope resolves the envelope's name index against the registry
// and dispatches it to the right DAO.
func (m *Manager) applyEnvelope(ctx context.Context, env *wire.Envelope) error {
	subdomain, err := m.registry.ResolveNameIndex(ctx, env.TLD, env.NameIndex)
	if errors.Is(err, dao.ErrUnknownName) {
		return fmt.Errorf("indexer: unresolvable name index %d: %w", env.NameIndex, err)
	}
	if err != nil {
		return fmt.Errorf("indexer: resolve name index: %w", err)
	}
	env.Subdomain = subdomain

	switch env.Message.(type) {
	case *wire.Post:
		return m.posts.Insert(ctx, env)
	case *wire.Connection:
		return m.connections.Insert(ctx, env)
	case *wire.Moderation:
		return m.moderations.Insert(ctx, env)
	case *wire.Media:
		return m.media.Insert(ctx, env)
	default:
		return fmt.Errorf("indexer: unhandled message tag %q", env.Message.Tag())
	}
}
