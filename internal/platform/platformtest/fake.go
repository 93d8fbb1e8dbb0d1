// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"synergy-guard/internal/platform"
)

type Call struct {
	Method    string
	GuildID   string
	UserID    string
	ChannelID string
	RoleID    string
	Roles     []string
	Until     time.Time
	Perm      platform.SendPermission
	Reason    string
	Notice    platform.Notice
	Content   string
}

// Fake records every call. Errors maps a method name to the error it should
// return; Roles, Admins, SendPerms and Audit seed the state read back.
type Fake struct {
	mu sync.Mutex

	Self      string
	GuildIDs  []string
	Roles     map[string][]string
	Admins    map[string]bool
	SendPerms map[string]map[string]platform.SendPermission
	Audit     map[string][]platform.AuditEntry
	Structure map[string]platform.GuildStructure
	Infos     map[string]platform.GuildInfo
	Errors    map[string]error

	calls   []Call
	nextID  int
	created map[string][]platform.ChannelSpec
}

func NewFake() *Fake {
	return &Fake{
		Self:      "bot",
		Roles:     make(map[string][]string),
		Admins:    make(map[string]bool),
		SendPerms: make(map[string]map[string]platform.SendPermission),
		Audit:     make(map[string][]platform.AuditEntry),
		Structure: make(map[string]platform.GuildStructure),
		Infos:     make(map[string]platform.GuildInfo),
		Errors:    make(map[string]error),
		created:   make(map[string][]platform.ChannelSpec),
	}
}

func memberKey(guildID, userID string) string {
	return guildID + ":" + userID
}

func auditKey(guildID string, kind platform.AuditKind) string {
	return guildID + ":" + string(kind)
}

// SetRoles seeds a member's roles.
func (f *Fake) SetRoles(guildID, userID string, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Roles[memberKey(guildID, userID)] = append([]string{}, roles...)
}

func (f *Fake) MemberRoleSet(guildID, userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.Roles[memberKey(guildID, userID)]...)
}

// AddAudit prepends an entry so AuditEntries stays newest first.
func (f *Fake) AddAudit(guildID string, entry platform.AuditEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := auditKey(guildID, entry.Kind)
	f.Audit[key] = append([]platform.AuditEntry{entry}, f.Audit[key]...)
}

func (f *Fake) SetError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[method] = err
}

func (f *Fake) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, call := range f.calls {
		if method == "" || call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (f *Fake) Count(method string) int {
	return len(f.Calls(method))
}

func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) record(call Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.Errors[call.Method]
}

func (f *Fake) SelfID() string {
	return f.Self
}

func (f *Fake) Guilds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.GuildIDs...)
}

// GuildInfo falls back to naming the guild after its ID.
func (f *Fake) GuildInfo(_ context.Context, guildID string) (platform.GuildInfo, error) {
	if err := f.record(Call{Method: "GuildInfo", GuildID: guildID}); err != nil {
		return platform.GuildInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.Infos[guildID]; ok {
		return info, nil
	}
	return platform.GuildInfo{Name: guildID}, nil
}

func (f *Fake) Kick(_ context.Context, guildID, userID, reason string) error {
	return f.record(Call{Method: "Kick", GuildID: guildID, UserID: userID, Reason: reason})
}

func (f *Fake) Ban(_ context.Context, guildID, userID, reason string, _ int) error {
	return f.record(Call{Method: "Ban", GuildID: guildID, UserID: userID, Reason: reason})
}

func (f *Fake) Timeout(_ context.Context, guildID, userID string, until time.Time, reason string) error {
	return f.record(Call{Method: "Timeout", GuildID: guildID, UserID: userID, Until: until, Reason: reason})
}

func (f *Fake) RemoveTimeout(_ context.Context, guildID, userID, reason string) error {
	return f.record(Call{Method: "RemoveTimeout", GuildID: guildID, UserID: userID, Reason: reason})
}

func (f *Fake) MemberRoles(_ context.Context, guildID, userID string) ([]string, error) {
	if err := f.record(Call{Method: "MemberRoles", GuildID: guildID, UserID: userID}); err != nil {
		return nil, err
	}
	return f.MemberRoleSet(guildID, userID), nil
}

func (f *Fake) EditRoles(_ context.Context, guildID, userID string, roleIDs []string, reason string) error {
	if err := f.record(Call{Method: "EditRoles", GuildID: guildID, UserID: userID, Roles: append([]string{}, roleIDs...), Reason: reason}); err != nil {
		return err
	}
	f.SetRoles(guildID, userID, roleIDs...)
	return nil
}

func (f *Fake) AddRole(_ context.Context, guildID, userID, roleID, reason string) error {
	if err := f.record(Call{Method: "AddRole", GuildID: guildID, UserID: userID, RoleID: roleID, Reason: reason}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := memberKey(guildID, userID)
	for _, existing := range f.Roles[key] {
		if existing == roleID {
			return nil
		}
	}
	f.Roles[key] = append(f.Roles[key], roleID)
	return nil
}

func (f *Fake) RemoveRole(_ context.Context, guildID, userID, roleID, reason string) error {
	if err := f.record(Call{Method: "RemoveRole", GuildID: guildID, UserID: userID, RoleID: roleID, Reason: reason}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := memberKey(guildID, userID)
	kept := f.Roles[key][:0]
	for _, existing := range f.Roles[key] {
		if existing != roleID {
			kept = append(kept, existing)
		}
	}
	f.Roles[key] = kept
	return nil
}

func (f *Fake) IsAdministrator(_ context.Context, guildID, userID string) (bool, error) {
	if err := f.record(Call{Method: "IsAdministrator", GuildID: guildID, UserID: userID}); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Admins[memberKey(guildID, userID)], nil
}

func (f *Fake) DeleteMessage(_ context.Context, channelID, messageID string) error {
	return f.record(Call{Method: "DeleteMessage", ChannelID: channelID, Content: messageID})
}

func (f *Fake) ChannelSendPermissions(_ context.Context, guildID string) (map[string]platform.SendPermission, error) {
	if err := f.record(Call{Method: "ChannelSendPermissions", GuildID: guildID}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]platform.SendPermission, len(f.SendPerms[guildID]))
	for channelID, perm := range f.SendPerms[guildID] {
		out[channelID] = perm
	}
	return out, nil
}

func (f *Fake) SetSendPermission(_ context.Context, guildID, channelID string, perm platform.SendPermission, reason string) error {
	if err := f.record(Call{Method: "SetSendPermission", GuildID: guildID, ChannelID: channelID, Perm: perm, Reason: reason}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendPerms[guildID] == nil {
		f.SendPerms[guildID] = make(map[string]platform.SendPermission)
	}
	f.SendPerms[guildID][channelID] = perm
	return nil
}

func (f *Fake) SendNotice(_ context.Context, channelID string, notice platform.Notice) error {
	return f.record(Call{Method: "SendNotice", ChannelID: channelID, Notice: notice})
}

func (f *Fake) SendChannelMessage(_ context.Context, channelID, content string) error {
	return f.record(Call{Method: "SendChannelMessage", ChannelID: channelID, Content: content})
}

func (f *Fake) SendDirect(_ context.Context, userID string, notice platform.Notice) error {
	return f.record(Call{Method: "SendDirect", UserID: userID, Notice: notice})
}

func (f *Fake) AuditEntries(_ context.Context, guildID string, kind platform.AuditKind, limit int) ([]platform.AuditEntry, error) {
	if err := f.record(Call{Method: "AuditEntries", GuildID: guildID, Content: string(kind)}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.Audit[auditKey(guildID, kind)]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return append([]platform.AuditEntry{}, entries...), nil
}

func (f *Fake) GuildStructure(_ context.Context, guildID string) (platform.GuildStructure, error) {
	if err := f.record(Call{Method: "GuildStructure", GuildID: guildID}); err != nil {
		return platform.GuildStructure{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Structure[guildID], nil
}

func (f *Fake) CreateRole(_ context.Context, guildID string, role platform.RoleSpec) (string, error) {
	if err := f.record(Call{Method: "CreateRole", GuildID: guildID, Content: role.Name}); err != nil {
		return "", err
	}
	return f.newID("role"), nil
}

func (f *Fake) CreateChannel(_ context.Context, guildID string, channel platform.ChannelSpec, _ map[string]string) (string, error) {
	if err := f.record(Call{Method: "CreateChannel", GuildID: guildID, ChannelID: channel.ParentID, Content: channel.Name}); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.created[guildID] = append(f.created[guildID], channel)
	f.mu.Unlock()
	return f.newID("channel"), nil
}

// CreatedChannels returns restored channel specs sorted by name.
func (f *Fake) CreatedChannels(guildID string) []platform.ChannelSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]platform.ChannelSpec{}, f.created[guildID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *Fake) newID(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return prefix + "-" + strconv.Itoa(f.nextID)
}

var (
	_ platform.Client          = (*Fake)(nil)
	_ platform.StructureClient = (*Fake)(nil)
)
