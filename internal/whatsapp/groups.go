package whatsapp

import (
	"context"

	"go.uber.org/zap"
)

func normalizeAll(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		jid, err := NormalizeJID(id)
		if err != nil {
			return nil, err
		}
		out = append(out, jid)
	}
	return out, nil
}

// CreateGroup creates a group with the given participants.
func (s *Session) CreateGroup(ctx context.Context, name string, users []string) (*GroupMetadata, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	participants, err := normalizeAll(users)
	if err != nil {
		return nil, err
	}
	return conn.GroupCreate(ctx, name, participants)
}

// groupCall runs a participant change and maps a protocol failure onto msg.
func (s *Session) groupCall(ctx context.Context, id string, users []string, action ParticipantAction, msg string) ([]ParticipantResult, *Result, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, nil, err
	}
	group, err := NormalizeJID(id)
	if err != nil {
		return nil, nil, err
	}
	participants, err := normalizeAll(users)
	if err != nil {
		return nil, nil, err
	}
	res, err := conn.GroupParticipantsUpdate(ctx, group, participants, action)
	if err != nil {
		zap.L().Warn("whatsapp: group participants update failed",
			zap.String("key", s.key), zap.String("group", group), zap.String("action", string(action)), zap.Error(err))
		return nil, failure(msg), nil
	}
	return res, nil, nil
}

func (s *Session) AddParticipants(ctx context.Context, id string, users []string) ([]ParticipantResult, *Result, error) {
	return s.groupCall(ctx, id, users, ParticipantAdd,
		"Unable to add participant, you must be an admin in this group")
}

func (s *Session) MakeAdmin(ctx context.Context, id string, users []string) ([]ParticipantResult, *Result, error) {
	return s.groupCall(ctx, id, users, ParticipantPromote,
		"unable to promote some participants, check if you are admin in group or participants exists")
}

func (s *Session) DemoteAdmin(ctx context.Context, id string, users []string) ([]ParticipantResult, *Result, error) {
	return s.groupCall(ctx, id, users, ParticipantDemote,
		"unable to demote some participants, check if you are admin in group or participants exists")
}

// UpdateParticipants applies any participant action: add, remove, promote
// or demote.
func (s *Session) UpdateParticipants(ctx context.Context, id string, users []string, action string) ([]ParticipantResult, *Result, error) {
	a := ParticipantAction(action)
	switch a {
	case ParticipantAdd, ParticipantRemove, ParticipantPromote, ParticipantDemote:
	default:
		return nil, nil, ErrInvalidAction
	}
	return s.groupCall(ctx, id, users, a,
		"unable to "+action+" some participants, check if you are admin in group or participants exists")
}

// UpdateSettings accepts announcement, not_announcement, locked or unlocked.
func (s *Session) UpdateSettings(ctx context.Context, id, action string) (*Result, error) {
	setting := GroupSetting(action)
	switch setting {
	case GroupAnnouncement, GroupNotAnnouncement, GroupLocked, GroupUnlocked:
	default:
		return nil, ErrInvalidAction
	}
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	group, err := NormalizeJID(id)
	if err != nil {
		return nil, err
	}
	if err := conn.GroupSettingUpdate(ctx, group, setting); err != nil {
		zap.L().Warn("whatsapp: group setting update failed", zap.String("key", s.key), zap.String("group", group), zap.Error(err))
		return failure("unable to " + action + " check if you are admin in group"), nil
	}
	return nil, nil
}

func (s *Session) UpdateSubject(ctx context.Context, id, subject string) (*Result, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	group, err := NormalizeJID(id)
	if err != nil {
		return nil, err
	}
	if err := conn.GroupUpdateSubject(ctx, group, subject); err != nil {
		zap.L().Warn("whatsapp: group subject update failed", zap.String("key", s.key), zap.String("group", group), zap.Error(err))
		return failure("unable to update subject check if you are admin in group"), nil
	}
	return nil, nil
}

func (s *Session) UpdateDescription(ctx context.Context, id, description string) (*Result, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	group, err := NormalizeJID(id)
	if err != nil {
		return nil, err
	}
	if err := conn.GroupUpdateDescription(ctx, group, description); err != nil {
		zap.L().Warn("whatsapp: group description update failed", zap.String("key", s.key), zap.String("group", group), zap.Error(err))
		return failure("unable to update description check if you are admin in group"), nil
	}
	return nil, nil
}

// AllGroups lists the groups of the chat snapshot.
func (s *Session) AllGroups(ctx context.Context) ([]GroupSummary, error) {
	return s.chats.Groups(ctx)
}

// GroupByID looks id up in the chat snapshot.
func (s *Session) GroupByID(ctx context.Context, id string) (*Chat, error) {
	jid, err := NormalizeJID(id)
	if err != nil {
		return nil, err
	}
	chat, err := s.chats.Find(ctx, jid)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrGroupNotFound
	}
	return chat, nil
}

// LeaveGroup leaves a group known to the snapshot.
func (s *Session) LeaveGroup(ctx context.Context, id string) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	chat, err := s.chats.Find(ctx, id)
	if err != nil {
		return err
	}
	if chat == nil {
		return ErrGroupNotFound
	}
	return conn.GroupLeave(ctx, id)
}

// InviteCode returns the invite code of a group known to the snapshot.
func (s *Session) InviteCode(ctx context.Context, id string) (string, error) {
	conn, err := s.connection()
	if err != nil {
		return "", err
	}
	chat, err := s.chats.Find(ctx, id)
	if err != nil {
		return "", err
	}
	if chat == nil {
		return "", ErrGroupNotFound
	}
	return conn.GroupInviteCode(ctx, id)
}
