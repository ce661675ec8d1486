package directory

import (
	"context"
	"errors"
	"log/slog"
)

// Repository is the persistence contract for the PBX user directory.
type Repository interface {
	// FindChannel matches a shortened channel name within a system.
	FindChannel(ctx context.Context, shortChannel, systemName string) (UserChannel, error)
	// FindUserByExten matches a user by configured extension.
	FindUserByExten(ctx context.Context, exten string) (PbxUser, error)
	GetUser(ctx context.Context, userID string) (PbxUser, error)
	UserChannels(ctx context.Context, userID string) ([]UserChannel, error)
}

var ErrNotFound = errors.New("directory: not found")

// Service resolves which PBX user owns a device channel.
type Service struct {
	repo Repository
	log  *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log}
}

// Lookup resolves the user owning channelName within systemName.
//
// The configured channel patterns are tried first; when none match and the
// event carried a caller ID number, a user with that exact extension wins.
// No match is a normal outcome (anonymous or external caller), reported as
// (zero, false).
func (s *Service) Lookup(ctx context.Context, channelName, systemName, callerIDNum string) (PbxUser, bool) {
	short := ShortChannel(channelName)
	uc, err := s.repo.FindChannel(ctx, short, systemName)
	if err == nil {
		u, err := s.repo.GetUser(ctx, uc.UserID)
		if err == nil {
			return u, true
		}
		s.log.Warn("user channel references missing user", "channel", short, "user_id", uc.UserID)
	} else if !errors.Is(err, ErrNotFound) {
		s.log.Error("channel lookup failed", "channel", short, "err", err)
		return PbxUser{}, false
	}

	if callerIDNum == "" {
		return PbxUser{}, false
	}
	u, err := s.repo.FindUserByExten(ctx, callerIDNum)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("exten lookup failed", "exten", callerIDNum, "err", err)
		}
		return PbxUser{}, false
	}
	return u, true
}

// Get returns a PBX user by id.
func (s *Service) Get(ctx context.Context, userID string) (PbxUser, error) {
	return s.repo.GetUser(ctx, userID)
}
