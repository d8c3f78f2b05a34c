package whatsapp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/store"
	"go.uber.org/zap"
)

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

// Chat is one entry of a session's chat snapshot. Group entries also carry
// participants, creation time and subject owner.
type Chat struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name,omitempty"`
	Participants []Participant          `json:"participant,omitempty"`
	Creation     int64                  `json:"creation,omitempty"`
	SubjectOwner string                 `json:"subjectOwner,omitempty"`
	Messages     []json.RawMessage      `json:"messages"`
	Attrs        map[string]interface{} `json:"attrs,omitempty"`
}

func (c Chat) clone() Chat {
	out := c
	if c.Participants != nil {
		out.Participants = append([]Participant(nil), c.Participants...)
	}
	if c.Attrs != nil {
		out.Attrs = make(map[string]interface{}, len(c.Attrs))
		for k, v := range c.Attrs {
			out.Attrs[k] = v
		}
	}
	out.Messages = append([]json.RawMessage{}, c.Messages...)
	return out
}

// GroupSummary is the listing shape of a group chat.
type GroupSummary struct {
	Index        int           `json:"index"`
	Name         string        `json:"name"`
	JID          string        `json:"jid"`
	Participant  []Participant `json:"participant"`
	Creation     int64         `json:"creation"`
	SubjectOwner string        `json:"subjectOwner"`
}

type chatDocument struct {
	Key       string    `json:"key"`
	Chat      []Chat    `json:"chat"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatStateStore reconciles chat and group notifications into the snapshot
// of one session. Every change builds a new slice which replaces the old one
// only after it was persisted, so readers never observe a half applied change.
type ChatStateStore struct {
	key  string
	docs store.DocumentStore

	mu      sync.Mutex
	chats   []Chat
	loaded  bool
	dropped bool
}

func NewChatStateStore(key string, docs store.DocumentStore) *ChatStateStore {
	return &ChatStateStore{key: key, docs: docs}
}

// load must be called with mu held.
func (s *ChatStateStore) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	body, err := s.docs.Get(ctx, store.CollectionChats, s.key)
	if errors.Is(err, store.ErrNotFound) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load chat snapshot")
	}
	var doc chatDocument
	if err := jsonx.Unmarshal(body, &doc); err != nil {
		return errors.Wrap(err, "decode chat snapshot")
	}
	s.chats = doc.Chat
	s.loaded = true
	return nil
}

func (s *ChatStateStore) persist(ctx context.Context, chats []Chat) error {
	if chats == nil {
		chats = []Chat{}
	}
	body, err := jsonx.Marshal(chatDocument{Key: s.key, Chat: chats, UpdatedAt: time.Now()})
	if err != nil {
		return err
	}
	return s.docs.Put(ctx, store.CollectionChats, s.key, body)
}

// mutate runs fn against the current snapshot under the session lock and
// installs the result once it is persisted. fn must not modify its input and
// returns false when nothing changed.
func (s *ChatStateStore) mutate(ctx context.Context, op string, fn func(cur []Chat) ([]Chat, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return nil
	}
	if err := s.load(ctx); err != nil {
		zap.L().Error("whatsapp: chat snapshot unavailable", zap.Error(err), zap.String("key", s.key), zap.String("op", op))
		return err
	}
	next, changed := fn(s.chats)
	if !changed {
		zap.L().Debug("whatsapp: chat reconcile no-op", zap.String("key", s.key), zap.String("op", op))
		return nil
	}
	if err := s.persist(ctx, next); err != nil {
		zap.L().Error("whatsapp: persist chat snapshot failed", zap.Error(err), zap.String("key", s.key), zap.String("op", op))
		return err
	}
	s.chats = next
	return nil
}

func indexOf(chats []Chat, id string) int {
	for i := range chats {
		if chats[i].ID == id {
			return i
		}
	}
	return -1
}

// replaceAt returns a copy of chats with chats[i] swapped for c.
func replaceAt(chats []Chat, i int, c Chat) []Chat {
	next := append([]Chat(nil), chats...)
	next[i] = c
	return next
}

func withoutIndex(chats []Chat, i int) []Chat {
	next := make([]Chat, 0, len(chats)-1)
	next = append(next, chats[:i]...)
	return append(next, chats[i+1:]...)
}

func resetMessages(chats []Chat) []Chat {
	out := make([]Chat, 0, len(chats))
	for _, c := range chats {
		c = c.clone()
		c.Messages = []json.RawMessage{}
		out = append(out, c)
	}
	return out
}

// Set replaces the snapshot with a full chat list.
func (s *ChatStateStore) Set(ctx context.Context, chats []Chat) error {
	return s.mutate(ctx, "set", func([]Chat) ([]Chat, bool) {
		return resetMessages(chats), true
	})
}

// MergeGroups copies participants, creation and owner from freshly fetched
// group metadata onto the matching snapshot entries.
func (s *ChatStateStore) MergeGroups(ctx context.Context, groups []GroupMetadata) error {
	return s.mutate(ctx, "merge-groups", func(cur []Chat) ([]Chat, bool) {
		next := cur
		changed := false
		for _, g := range groups {
			i := indexOf(next, g.ID)
			if i < 0 {
				continue
			}
			c := next[i].clone()
			c.Creation = g.Creation
			c.SubjectOwner = g.SubjectOwner
			c.Participants = append([]Participant{}, g.Participants...)
			next = replaceAt(next, i, c)
			changed = true
		}
		return next, changed
	})
}

// Upsert appends chats without de-duplication.
func (s *ChatStateStore) Upsert(ctx context.Context, chats []Chat) error {
	return s.mutate(ctx, "upsert", func(cur []Chat) ([]Chat, bool) {
		if len(chats) == 0 {
			return cur, false
		}
		next := append(append([]Chat(nil), cur...), resetMessages(chats)...)
		return next, true
	})
}

// Update shallow merges each patch over the first chat with the same id.
// Unknown ids are ignored.
func (s *ChatStateStore) Update(ctx context.Context, patches []ChatPatch) error {
	return s.mutate(ctx, "update", func(cur []Chat) ([]Chat, bool) {
		next := cur
		changed := false
		for _, p := range patches {
			i := indexOf(next, p.ID)
			if i < 0 {
				continue
			}
			c := next[i].clone()
			if p.Name != "" {
				c.Name = p.Name
			}
			if len(p.Attrs) > 0 && c.Attrs == nil {
				c.Attrs = make(map[string]interface{}, len(p.Attrs))
			}
			for k, v := range p.Attrs {
				c.Attrs[k] = v
			}
			next = replaceAt(next, i, c)
			changed = true
		}
		return next, changed
	})
}

// Delete removes chats by id. Unknown ids are ignored.
func (s *ChatStateStore) Delete(ctx context.Context, ids []string) error {
	return s.mutate(ctx, "delete", func(cur []Chat) ([]Chat, bool) {
		next := cur
		changed := false
		for _, id := range ids {
			if i := indexOf(next, id); i >= 0 {
				next = withoutIndex(next, i)
				changed = true
			}
		}
		return next, changed
	})
}

// GroupCreated appends an entry for each group created by this account.
func (s *ChatStateStore) GroupCreated(ctx context.Context, groups []GroupMetadata) error {
	return s.mutate(ctx, "group-created", func(cur []Chat) ([]Chat, bool) {
		if len(groups) == 0 {
			return cur, false
		}
		next := append([]Chat(nil), cur...)
		for _, g := range groups {
			next = append(next, Chat{
				ID:           g.ID,
				Name:         g.Subject,
				Participants: append([]Participant{}, g.Participants...),
				Creation:     g.Creation,
				SubjectOwner: g.SubjectOwner,
				Messages:     []json.RawMessage{},
			})
		}
		return next, true
	})
}

// SubjectUpdated renames groups whose update carries a non-empty subject.
func (s *ChatStateStore) SubjectUpdated(ctx context.Context, updates []GroupUpdate) error {
	return s.mutate(ctx, "subject-updated", func(cur []Chat) ([]Chat, bool) {
		next := cur
		changed := false
		for _, u := range updates {
			if u.Subject == "" {
				continue
			}
			i := indexOf(next, u.ID)
			if i < 0 {
				continue
			}
			c := next[i].clone()
			c.Name = u.Subject
			next = replaceAt(next, i, c)
			changed = true
		}
		return next, changed
	})
}

// ParticipantsUpdated applies add, remove, promote or demote to a group's
// member list. Removing the subject owner drops the whole group.
func (s *ChatStateStore) ParticipantsUpdated(ctx context.Context, evt *GroupParticipantsUpdate) error {
	return s.mutate(ctx, "participants-updated", func(cur []Chat) ([]Chat, bool) {
		i := indexOf(cur, evt.ID)
		if i < 0 {
			return cur, false
		}
		c := cur[i].clone()
		switch evt.Action {
		case ParticipantAdd:
			for _, id := range evt.Participants {
				c.Participants = append(c.Participants, Participant{ID: id, Admin: RoleNone})
			}
		case ParticipantRemove:
			ownerGone := false
			for _, id := range evt.Participants {
				if c.SubjectOwner != "" && c.SubjectOwner == id {
					ownerGone = true
				}
				c.Participants = removeParticipant(c.Participants, id)
			}
			if ownerGone {
				return withoutIndex(cur, i), true
			}
		case ParticipantPromote:
			setRole(c.Participants, evt.Participants, RoleSuperAdmin)
		case ParticipantDemote:
			setRole(c.Participants, evt.Participants, RoleNone)
		default:
			return cur, false
		}
		return replaceAt(cur, i, c), true
	})
}

func removeParticipant(ps []Participant, id string) []Participant {
	out := ps[:0:0]
	for _, p := range ps {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// setRole updates ps in place; callers pass a cloned slice.
func setRole(ps []Participant, ids []string, role string) {
	for _, id := range ids {
		for i := range ps {
			if ps[i].ID == id {
				ps[i].Admin = role
				break
			}
		}
	}
}

// Ensure creates an empty snapshot document when none is stored yet.
func (s *ChatStateStore) Ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return nil
	}
	_, err := s.docs.Get(ctx, store.CollectionChats, s.key)
	if err == nil {
		return s.load(ctx)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := s.persist(ctx, nil); err != nil {
		return err
	}
	s.chats = nil
	s.loaded = true
	return nil
}

// Drop deletes the persisted snapshot. Mutations arriving afterwards are
// ignored so in-flight work cannot bring the document back.
func (s *ChatStateStore) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = true
	s.chats = nil
	return s.docs.Delete(ctx, store.CollectionChats, s.key)
}

// Chats returns the current snapshot. The slice must not be modified.
func (s *ChatStateStore) Chats(ctx context.Context) ([]Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return nil, nil
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s.chats, nil
}

// Find returns the first chat with the given id.
func (s *ChatStateStore) Find(ctx context.Context, id string) (*Chat, error) {
	chats, err := s.Chats(ctx)
	if err != nil {
		return nil, err
	}
	if i := indexOf(chats, id); i >= 0 {
		c := chats[i].clone()
		return &c, nil
	}
	return nil, nil
}

// Groups lists the group chats of the snapshot.
func (s *ChatStateStore) Groups(ctx context.Context) ([]GroupSummary, error) {
	chats, err := s.Chats(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]GroupSummary, 0)
	for _, c := range chats {
		if !IsGroupJID(c.ID) {
			continue
		}
		out = append(out, GroupSummary{
			Index:        len(out),
			Name:         c.Name,
			JID:          c.ID,
			Participant:  c.Participants,
			Creation:     c.Creation,
			SubjectOwner: c.SubjectOwner,
		})
	}
	return out, nil
}
