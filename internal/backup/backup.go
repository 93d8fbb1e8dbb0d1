// Package backup snapshots a guild's roles and channels and recreates
// whatever is missing from the latest snapshot.
package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"synergy-guard/internal/modules/audit"
	"synergy-guard/internal/platform"
	"synergy-guard/internal/storage"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const (
	snapshotVersion = 1
	everyoneRole    = "@everyone"
)

var ErrNoBackup = errors.New("no backup found for this server")

type Snapshot struct {
	Version   int                    `json:"version"`
	GuildID   string                 `json:"guild_id"`
	GuildName string                 `json:"guild_name"`
	CreatedAt time.Time              `json:"created_at"`
	CreatedBy string                 `json:"created_by"`
	Roles     []platform.RoleSpec    `json:"roles"`
	Channels  []platform.ChannelSpec `json:"channels"`
}

// Categories counts category channels in the snapshot.
func (s Snapshot) Categories() int {
	n := 0
	for _, channel := range s.Channels {
		if channel.Kind == platform.ChannelCategory {
			n++
		}
	}
	return n
}

type Summary struct {
	Roles      int
	Categories int
	Channels   int
	Skipped    int
	Failed     int
}

type Service struct {
	client platform.StructureClient
	blobs  BlobStore
	audit  *audit.Logger
	logger *zap.Logger
	now    func() time.Time
}

func New(client platform.StructureClient, blobs BlobStore, auditLogger *audit.Logger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, blobs: blobs, audit: auditLogger, logger: logger, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create captures the guild and replaces its stored snapshot.
func (s *Service) Create(ctx context.Context, guildID, actorID string) (Snapshot, error) {
	structure, err := s.client.GuildStructure(ctx, guildID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read guild structure: %w", err)
	}
	snap := Snapshot{
		Version:   snapshotVersion,
		GuildID:   guildID,
		GuildName: structure.Name,
		CreatedAt: s.now().UTC(),
		CreatedBy: actorID,
		Roles:     structure.Roles,
		Channels:  structure.Channels,
	}
	data, err := sonic.Marshal(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.blobs.Put(ctx, guildID, actorID, data); err != nil {
		return Snapshot{}, fmt.Errorf("store snapshot: %w", err)
	}
	s.audit.Log(ctx, audit.LevelInfo, guildID, actorID, "backup_created",
		fmt.Sprintf("roles=%d channels=%d", len(snap.Roles), len(snap.Channels)))
	return snap, nil
}

func (s *Service) Load(ctx context.Context, guildID string) (Snapshot, error) {
	data, _, err := s.blobs.Get(ctx, guildID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Snapshot{}, ErrNoBackup
		}
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	var snap Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Restore recreates roles, then categories, then channels that are absent
// from the live guild. Items are matched by name; channels also by kind and
// parent category. One failed item does not stop the rest.
func (s *Service) Restore(ctx context.Context, guildID, actorID string) (Summary, error) {
	snap, err := s.Load(ctx, guildID)
	if err != nil {
		return Summary{}, err
	}
	live, err := s.client.GuildStructure(ctx, guildID)
	if err != nil {
		return Summary{}, fmt.Errorf("read guild structure: %w", err)
	}

	var sum Summary
	roleIDs := map[string]string{everyoneRole: guildID}
	for _, role := range live.Roles {
		roleIDs[role.Name] = role.ID
	}

	roles := append([]platform.RoleSpec{}, snap.Roles...)
	sort.SliceStable(roles, func(i, j int) bool { return roles[i].Position > roles[j].Position })
	for _, role := range roles {
		if _, ok := roleIDs[role.Name]; ok {
			sum.Skipped++
			continue
		}
		id, err := s.client.CreateRole(ctx, guildID, role)
		if err != nil {
			s.logger.Warn("role restore failed", zap.String("guild_id", guildID), zap.String("role", role.Name), zap.Error(err))
			sum.Failed++
			continue
		}
		roleIDs[role.Name] = id
		sum.Roles++
	}

	liveCategories := make(map[string]string)
	liveNames := make(map[string]string, len(live.Channels))
	for _, channel := range live.Channels {
		liveNames[channel.ID] = channel.Name
		if channel.Kind == platform.ChannelCategory {
			liveCategories[channel.Name] = channel.ID
		}
	}
	liveChannels := make(map[channelKey]bool)
	for _, channel := range live.Channels {
		if channel.Kind != platform.ChannelCategory {
			liveChannels[channelKey{channel.Name, channel.Kind, liveNames[channel.ParentID]}] = true
		}
	}

	var categories, channels []platform.ChannelSpec
	snapNames := make(map[string]string, len(snap.Channels))
	for _, channel := range snap.Channels {
		snapNames[channel.ID] = channel.Name
		if channel.Kind == platform.ChannelCategory {
			categories = append(categories, channel)
		} else {
			channels = append(channels, channel)
		}
	}
	sort.SliceStable(categories, func(i, j int) bool { return categories[i].Position < categories[j].Position })
	sort.SliceStable(channels, func(i, j int) bool { return channels[i].Position < channels[j].Position })

	// Old category id to the id it has now.
	parents := make(map[string]string)
	for _, category := range categories {
		if id, ok := liveCategories[category.Name]; ok {
			parents[category.ID] = id
			sum.Skipped++
			continue
		}
		spec := category
		spec.ParentID = ""
		id, err := s.client.CreateChannel(ctx, guildID, spec, roleIDs)
		if err != nil {
			s.logger.Warn("category restore failed", zap.String("guild_id", guildID), zap.String("category", category.Name), zap.Error(err))
			sum.Failed++
			continue
		}
		parents[category.ID] = id
		sum.Categories++
	}

	for _, channel := range channels {
		if liveChannels[channelKey{channel.Name, channel.Kind, snapNames[channel.ParentID]}] {
			sum.Skipped++
			continue
		}
		spec := channel
		spec.ParentID = parents[channel.ParentID]
		if _, err := s.client.CreateChannel(ctx, guildID, spec, roleIDs); err != nil {
			s.logger.Warn("channel restore failed", zap.String("guild_id", guildID), zap.String("channel", channel.Name), zap.Error(err))
			sum.Failed++
			continue
		}
		sum.Channels++
	}

	s.audit.Log(ctx, audit.LevelWarn, guildID, actorID, "backup_restored",
		fmt.Sprintf("roles=%d categories=%d channels=%d skipped=%d failed=%d", sum.Roles, sum.Categories, sum.Channels, sum.Skipped, sum.Failed))
	return sum, nil
}

type channelKey struct {
	name   string
	kind   platform.ChannelKind
	parent string
}
