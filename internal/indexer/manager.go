package indexer

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/hearsay-net/hearsay/internal/dao"
	"github.com/hearsay-net/hearsay/internal/p2p"
	"github.com/hearsay-net/hearsay/internal/storage"
	"github.com/hearsay-net/hearsay/internal/wire"
)

const (
	defaultScanTimeout = 10 * time.Second
	cacheSize          = 4096
	syncPageSize       = 100
)

// Manager owns the read side of the index: it scans identity blobs into
// the relational store and serves the paginated queries built on it.
type Manager struct {
	engine      storage.Engine
	posts       *dao.PostsDAO
	connections *dao.ConnectionsDAO
	moderations *dao.ModerationsDAO
	media       *dao.MediaDAO
	envelopes   *dao.EnvelopesDAO
	registry    *dao.RegistryDAO

	store  p2p.BlobStore
	opener p2p.StreamOpener

	// roots remembers the last merkle root seen per tld so unchanged
	// blobs are not rescanned. infos caches the daemon's blob metadata.
	roots *lru.Cache[string, string]
	infos *lru.Cache[string, p2p.BlobInfo]

	scanning    *xsync.MapOf[string, struct{}]
	scanTimeout time.Duration
	logger      *slog.Logger
}

// New wires a Manager over a storage engine and the peer daemon surfaces.
func New(engine storage.Engine, store p2p.BlobStore, opener p2p.StreamOpener, scanTimeout time.Duration, logger *slog.Logger) (*Manager, error) {
	if scanTimeout <= 0 {
		scanTimeout = defaultScanTimeout
	}
	roots, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("indexer: root cache: %w", err)
	}
	infos, err := lru.New[string, p2p.BlobInfo](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("indexer: info cache: %w", err)
	}
	return &Manager{
		engine:      engine,
		posts:       dao.NewPostsDAO(engine),
		connections: dao.NewConnectionsDAO(engine),
		moderations: dao.NewModerationsDAO(engine),
		media:       dao.NewMediaDAO(engine),
		envelopes:   dao.NewEnvelopesDAO(engine),
		registry:    dao.NewRegistryDAO(engine),
		store:       store,
		opener:      opener,
		roots:       roots,
		infos:       infos,
		scanning:    xsync.NewMapOf[string, struct{}](),
		scanTimeout: scanTimeout,
		logger:      logger,
	}, nil
}

// Registry exposes the subdomain registry for callers that manage names.
func (m *Manager) Registry() *dao.RegistryDAO { return m.registry }

// Envelopes exposes the raw envelope reads used by the write path.
func (m *Manager) Envelopes() *dao.EnvelopesDAO { return m.envelopes }

// MaybeScanIdentity rescans a name only when its merkle root moved since
// the last scan.
func (m *Manager) MaybeScanIdentity(ctx context.Context, tld string) error {
	info, err := m.store.GetBlobInfo(ctx, tld)
	if err != nil {
		return fmt.Errorf("indexer: blob info %s: %w", tld, err)
	}
	return m.scanIfChanged(ctx, *info)
}

func (m *Manager) scanIfChanged(ctx context.Context, info p2p.BlobInfo) error {
	root := hex.EncodeToString(info.MerkleRoot)
	if prev, ok := m.roots.Get(info.TLD); ok && prev == root {
		return nil
	}

	state, err := m.ScanIdentity(ctx, info.TLD)
	if err != nil {
		return err
	}
	if state == ScanDone {
		m.roots.Add(info.TLD, root)
		m.infos.Add(info.TLD, info)
	}
	return nil
}

// BlobInfo returns the last cached metadata for a name, falling back to
// the daemon when the cache misses.
func (m *Manager) BlobInfo(ctx context.Context, tld string) (*p2p.BlobInfo, error) {
	if info, ok := m.infos.Get(tld); ok {
		return &info, nil
	}
	info, err := m.store.GetBlobInfo(ctx, tld)
	if err != nil {
		return nil, fmt.Errorf("indexer: blob info %s: %w", tld, err)
	}
	m.infos.Add(tld, *info)
	return info, nil
}

// SyncOnce walks the daemon's full identity listing and rescans every
// name whose blob changed. Scan failures are logged per name so one bad
// blob cannot stall the sweep.
func (m *Manager) SyncOnce(ctx context.Context) error {
	cursor := ""
	for {
		next, err := m.store.StreamBlobInfo(ctx, cursor, syncPageSize, func(info p2p.BlobInfo) error {
			if err := m.scanIfChanged(ctx, info); err != nil {
				m.logger.Error("identity scan failed", "tld", info.TLD, "error", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("indexer: stream blob info: %w", err)
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// Run repeats SyncOnce on the given interval until the context ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.SyncOnce(ctx); err != nil {
			m.logger.Error("sync sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// HandleNameSynced reacts to a daemon "name synced" notification. It is
// the LogWatcher callback.
func (m *Manager) HandleNameSynced(ctx context.Context, tld string) {
	if err := m.MaybeScanIdentity(ctx, tld); err != nil {
		m.logger.Error("post-sync scan failed", "tld", tld, "error", err)
	}
}

// Write entry points. Inserts are idempotent on refhash.

func (m *Manager) InsertPost(ctx context.Context, env *wire.Envelope) error {
	return m.posts.Insert(ctx, env)
}

func (m *Manager) InsertConnection(ctx context.Context, env *wire.Envelope) error {
	return m.connections.Insert(ctx, env)
}

func (m *Manager) InsertModeration(ctx context.Context, env *wire.Envelope) error {
	return m.moderations.Insert(ctx, env)
}

func (m *Manager) InsertMedia(ctx context.Context, env *wire.Envelope) error {
	return m.media.Insert(ctx, env)
}

// Read queries. All delegate to the DAOs and share the Page cursor
// contract.

func (m *Manager) GetPosts(ctx context.Context, limit int, cursor int64) (dao.Page[*wire.Envelope], error) {
	return m.posts.GetPosts(ctx, limit, cursor)
}

func (m *Manager) GetPostsByIdentity(ctx context.Context, identity string, limit int, cursor int64) (dao.Page[*wire.Envelope], error) {
	tld, subdomain := dao.SplitIdentity(identity)
	return m.posts.GetPostsBySubdomain(ctx, tld, subdomain, limit, cursor)
}

func (m *Manager) GetPostsByTopic(ctx context.Context, topic string, limit int, cursor int64) (dao.Page[*wire.Envelope], error) {
	return m.posts.GetPostsByTopic(ctx, topic, limit, cursor)
}

func (m *Manager) GetPostByRefhash(ctx context.Context, refhash string) (*wire.Envelope, error) {
	return m.posts.GetByRefhash(ctx, refhash, true)
}

func (m *Manager) GetComments(ctx context.Context, reference string, limit int, cursor int64) (dao.Page[*wire.Envelope], error) {
	return m.posts.GetCommentsByHash(ctx, reference, limit, cursor)
}

func (m *Manager) GetPostsByFilter(ctx context.Context, f dao.Filter, limit int, cursor int64) (dao.Page[*wire.Envelope], error) {
	return m.posts.GetPostsByFilter(ctx, f, limit, cursor)
}

func (m *Manager) GetOutgoingConnections(ctx context.Context, identity string, typ wire.ConnectionType, limit int, cursor int64) (dao.Page[*wire.Envelope], error) {
	tld, subdomain := dao.SplitIdentity(identity)
	return m.connections.GetOutgoing(ctx, tld, subdomain, typ, limit, cursor)
}

func (m *Manager) GetIncomingConnections(ctx context.Context, identity string, typ wire.ConnectionType, limit int, cursor int64) (dao.Page[*wire.Envelope], error) {
	tld, subdomain := dao.SplitIdentity(identity)
	return m.connections.GetIncoming(ctx, tld, subdomain, typ, limit, cursor)
}

func (m *Manager) GetModerationsByReference(ctx context.Context, reference string, limit int, cursor int64) (dao.Page[*wire.Envelope], error) {
	return m.moderations.GetByReference(ctx, reference, limit, cursor)
}

func (m *Manager) TrendingTags(ctx context.Context, limit int) ([]dao.TagSummary, error) {
	return m.posts.TrendingTags(ctx, limit)
}

func (m *Manager) TrendingPosters(ctx context.Context, limit int) ([]dao.PosterSummary, error) {
	return m.posts.TrendingPosters(ctx, limit)
}

// Profile is the set of hidden system topics that describe an identity.
type Profile struct {
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
	AvatarURL   string `json:"avatarUrl"`
}

// GetProfile reads an identity's profile from its hidden topics.
func (m *Manager) GetProfile(ctx context.Context, identity string) (*Profile, error) {
	tld, subdomain := dao.SplitIdentity(identity)

	var p Profile
	var err error
	if p.DisplayName, err = m.posts.GetProfileField(ctx, tld, subdomain, ".display_name"); err != nil {
		return nil, err
	}
	if p.Bio, err = m.posts.GetProfileField(ctx, tld, subdomain, ".bio"); err != nil {
		return nil, err
	}
	if p.AvatarURL, err = m.posts.GetProfileField(ctx, tld, subdomain, ".avatar_url"); err != nil {
		return nil, err
	}
	return &p, nil
}

// ScanMetadata recomputes the derived counters from the full corpus
// without writing anything.
func (m *Manager) ScanMetadata(ctx context.Context) (*dao.MetadataReport, error) {
	return m.posts.ScanMetadata(ctx)
}

// Reconcile recomputes the derived counters and persists them.
func (m *Manager) Reconcile(ctx context.Context) (*dao.MetadataReport, error) {
	return m.posts.Reconcile(ctx)
}
