// Package controls persists the one-click undo buttons attached to security
// alerts. A control is a tagged variant: a kind plus a JSON payload, run by
// the handler registered for that kind.
package controls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"synergy-guard/internal/platform"
	"synergy-guard/internal/storage"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Kind string

const (
	KindRestoreRoles Kind = "restore_roles"
	KindDisableRaid  Kind = "disable_raid"
	KindUndoTimeout  Kind = "undo_timeout"
)

const customIDPrefix = "ctl:"

var (
	ErrUnknownControl = errors.New("controls: unknown control")
	ErrAlreadyUsed    = errors.New("controls: already used")
)

type RestoreRolesPayload struct {
	UserID  string   `json:"user_id"`
	RoleIDs []string `json:"role_ids"`
}

type DisableRaidPayload struct{}

type UndoTimeoutPayload struct {
	UserID string `json:"user_id"`
}

type Store interface {
	SaveControl(ctx context.Context, record storage.ControlRecord) error
	GetControl(ctx context.Context, id string) (storage.ControlRecord, error)
	DeleteControl(ctx context.Context, id string) (bool, error)
}

type Invocation struct {
	ID      string
	GuildID string
	ActorID string
	Kind    Kind
	Payload []byte
}

// Handler runs a control and returns the text shown to whoever clicked it.
type Handler func(ctx context.Context, inv Invocation) (string, error)

type Registry struct {
	mu       sync.RWMutex
	store    Store
	logger   *zap.Logger
	handlers map[Kind]Handler
}

func New(store Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, logger: logger, handlers: make(map[Kind]Handler)}
}

func (r *Registry) Register(kind Kind, handler Handler) {
	r.mu.Lock()
	r.handlers[kind] = handler
	r.mu.Unlock()
}

// Issue persists a control and returns the button that triggers it.
func (r *Registry) Issue(ctx context.Context, guildID string, kind Kind, payload any, label string, style platform.ControlStyle) (platform.Control, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return platform.Control{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	id := uuid.NewString()
	if err := r.store.SaveControl(ctx, storage.ControlRecord{ID: id, GuildID: guildID, Kind: string(kind), Payload: data}); err != nil {
		return platform.Control{}, fmt.Errorf("save %s control: %w", kind, err)
	}
	return platform.Control{CustomID: customIDPrefix + id, Label: label, Style: style}, nil
}

// IsControl reports whether a component custom id belongs to this registry.
func IsControl(customID string) bool {
	return strings.HasPrefix(customID, customIDPrefix)
}

// Dispatch claims the control and runs its handler. A control runs at most
// once; if the handler fails the control is saved again so it can be
// retried.
func (r *Registry) Dispatch(ctx context.Context, customID, guildID, actorID string) (string, error) {
	if !IsControl(customID) {
		return "", ErrUnknownControl
	}
	id := strings.TrimPrefix(customID, customIDPrefix)

	record, err := r.store.GetControl(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrAlreadyUsed
		}
		return "", fmt.Errorf("load control: %w", err)
	}
	if record.GuildID != guildID {
		return "", ErrUnknownControl
	}

	r.mu.RLock()
	handler, ok := r.handlers[Kind(record.Kind)]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: kind %q", ErrUnknownControl, record.Kind)
	}

	claimed, err := r.store.DeleteControl(ctx, id)
	if err != nil {
		return "", fmt.Errorf("claim control: %w", err)
	}
	if !claimed {
		return "", ErrAlreadyUsed
	}

	inv := Invocation{ID: id, GuildID: guildID, ActorID: actorID, Kind: Kind(record.Kind), Payload: record.Payload}
	message, err := handler(ctx, inv)
	if err != nil {
		if saveErr := r.store.SaveControl(ctx, record); saveErr != nil {
			r.logger.Warn("control re-arm failed", zap.String("control_id", id), zap.Error(saveErr))
		}
		return "", err
	}
	r.logger.Info("control used", zap.String("control_id", id), zap.String("kind", record.Kind), zap.String("guild_id", guildID), zap.String("user_id", actorID))
	return message, nil
}

// Decode unmarshals an invocation payload.
func Decode[T any](inv Invocation) (T, error) {
	var out T
	if err := sonic.Unmarshal(inv.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", inv.Kind, err)
	}
	return out, nil
}
