package game

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"strings"
	"time"

	"whosaid/internal/docstore"
	"whosaid/internal/domain"
)

const (
	// DefaultRoomCodeLength is the default length for room codes and passcodes
	DefaultRoomCodeLength = 6
)

// RoomCodeChars are characters used for room codes (no ambiguous chars)
const RoomCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CreateRoomParams describes a new room
type CreateRoomParams struct {
	HostID      string
	HostName    string
	TotalRounds int      // 0 uses the default round count
	PromptPool  []string // nil uses the built-in prompt bank
}

// CreateRoom creates a room with a frozen prompt sequence and adds the host
// as its first player.
func (s *Service) CreateRoom(ctx context.Context, params CreateRoomParams) (room *domain.Room, err error) {
	ctx, span := s.startSpan(ctx, "CreateRoom", "")
	defer func() { endSpan(span, err) }()

	if params.HostID == "" {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "host id is required")
	}
	name, err := domain.ValidateText(params.HostName, s.settings.MaxNameLength)
	if err != nil {
		return nil, err
	}

	pool := params.PromptPool
	if pool == nil {
		pool = s.prompts
	}
	rounds := params.TotalRounds
	if rounds == 0 {
		rounds = s.settings.DefaultRounds
	}
	if rounds < 1 || rounds > len(pool) {
		return nil, domain.Errorf(domain.ErrInvalidArgument,
			fmt.Sprintf("total rounds must be between 1 and %d", len(pool)))
	}
	prompts := samplePrompts(pool, rounds)

	passcode, err := generateCode(RoomCodeChars, DefaultRoomCodeLength)
	if err != nil {
		return nil, domain.Wrap(domain.ErrCreationFailed, err)
	}

	for attempt := 0; attempt < s.codeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, domain.Wrap(domain.ErrCreationFailed, err)
		}

		now := s.now()
		candidate := domain.NewRoom(code, passcode, params.HostID, prompts, now)
		host := domain.NewPlayer(params.HostID, name, true, now)

		err = s.store.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
			if err := tx.Create(RoomRef(code), candidate); err != nil {
				return err
			}
			return tx.Create(playerRef(code, host.UserID), host)
		})
		if errors.Is(err, docstore.ErrAlreadyExists) {
			s.logger.Debug("room code collision", "roomCode", code, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, domain.Wrap(domain.ErrCreationFailed, err)
		}

		span.SetAttributes(roomAttr(code))
		s.logger.Info("room created", "roomCode", code, "hostId", params.HostID, "rounds", rounds)
		return candidate, nil
	}

	return nil, domain.Errorf(domain.ErrCreationFailed, "failed to generate unique room code")
}

// JoinRoom adds a player to a room. Joining again while active returns the
// existing player unchanged; a player who left is re-activated with the
// score already earned.
func (s *Service) JoinRoom(ctx context.Context, code, passcode, userID, displayName string) (player *domain.Player, err error) {
	code = NormalizeCode(code)
	ctx, span := s.startSpan(ctx, "JoinRoom", code)
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "user id is required")
	}
	name, err := domain.ValidateText(displayName, s.settings.MaxNameLength)
	if err != nil {
		return nil, err
	}

	var rejoined bool
	err = s.run(ctx, func(tx docstore.Tx) error {
		rejoined = false
		room, err := loadRoom(tx, code)
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare([]byte(room.Passcode), []byte(strings.TrimSpace(passcode))) != 1 {
			return domain.Errorf(domain.ErrForbidden, "wrong passcode")
		}

		existing, ok, err := loadPlayer(tx, code, userID)
		if err != nil {
			return err
		}
		if ok && existing.Active {
			player = existing
			rejoined = true
			return nil
		}
		if room.ParticipantCount >= s.settings.MaxPlayers {
			return domain.ErrFull
		}
		if !room.Phase.Joinable() {
			return domain.ErrAlreadyStarted
		}

		if ok {
			existing.Active = true
			existing.DisplayName = name
			existing.ResetForNewRound()
			player = existing
		} else {
			player = domain.NewPlayer(userID, name, false, s.now())
		}
		room.ParticipantCount++

		if err := tx.Set(RoomRef(code), room); err != nil {
			return err
		}
		return tx.Set(playerRef(code, userID), player)
	})
	if err != nil {
		return nil, err
	}

	if rejoined {
		s.logger.Debug("player rejoined", "roomCode", code, "userId", userID)
	} else {
		s.logger.Info("player joined", "roomCode", code, "userId", userID)
	}
	return player, nil
}

// LeaveRoom removes a player from the live roster. The host leaving ends
// the room. Leaving twice is a no-op.
func (s *Service) LeaveRoom(ctx context.Context, code, userID string) (err error) {
	code = NormalizeCode(code)
	ctx, span := s.startSpan(ctx, "LeaveRoom", code)
	defer func() { endSpan(span, err) }()

	var ended bool
	err = s.run(ctx, func(tx docstore.Tx) error {
		ended = false
		room, err := loadRoom(tx, code)
		if err != nil {
			return err
		}
		if room.IsHost(userID) {
			ended = true
			return deleteRoomTree(tx, code)
		}

		player, ok, err := loadPlayer(tx, code, userID)
		if err != nil {
			return err
		}
		if !ok || !player.Active {
			return nil
		}
		player.Active = false
		if room.ParticipantCount > 0 {
			room.ParticipantCount--
		}
		if err := tx.Set(RoomRef(code), room); err != nil {
			return err
		}
		return tx.Set(playerRef(code, userID), player)
	})
	if err != nil {
		return err
	}

	if ended {
		s.logger.Info("room ended by host leaving", "roomCode", code)
	} else {
		s.logger.Info("player left", "roomCode", code, "userId", userID)
	}
	return nil
}

// EndRoom deletes the room and everything under it. Host only.
func (s *Service) EndRoom(ctx context.Context, code, callerID string) (err error) {
	code = NormalizeCode(code)
	ctx, span := s.startSpan(ctx, "EndRoom", code)
	defer func() { endSpan(span, err) }()

	err = s.run(ctx, func(tx docstore.Tx) error {
		room, err := loadRoom(tx, code)
		if err != nil {
			return err
		}
		if !room.IsHost(callerID) {
			return domain.Errorf(domain.ErrForbidden, "only host can end the room")
		}
		return deleteRoomTree(tx, code)
	})
	if err != nil {
		return err
	}

	s.logger.Info("room ended", "roomCode", code)
	return nil
}

// GetRoom returns a room by code
func (s *Service) GetRoom(ctx context.Context, code string) (room *domain.Room, err error) {
	code = NormalizeCode(code)
	err = s.run(ctx, func(tx docstore.Tx) error {
		room, err = loadRoom(tx, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// ShareLink returns the join parameters of a room. Members only.
func (s *Service) ShareLink(ctx context.Context, code, callerID string) (link domain.ShareLink, err error) {
	code = NormalizeCode(code)
	err = s.run(ctx, func(tx docstore.Tx) error {
		room, err := loadRoom(tx, code)
		if err != nil {
			return err
		}
		player, ok, err := loadPlayer(tx, code, callerID)
		if err != nil {
			return err
		}
		if !ok || !player.Active {
			return domain.Errorf(domain.ErrForbidden, "only players can share the room")
		}
		link = domain.ShareLink{Code: room.Code, Passcode: room.Passcode}
		return nil
	})
	return link, err
}

// RoomCount returns the number of rooms in the store
func (s *Service) RoomCount(ctx context.Context) (int, error) {
	snaps, err := s.store.Query(ctx, docstore.Where(roomsCollection))
	if err != nil {
		return 0, storeError(err)
	}
	return len(snaps), nil
}

// PurgeStaleRooms deletes rooms created before now minus maxAge and returns
// how many were removed.
func (s *Service) PurgeStaleRooms(ctx context.Context, maxAge time.Duration) (int, error) {
	snaps, err := s.store.Query(ctx, docstore.Where(roomsCollection))
	if err != nil {
		return 0, storeError(err)
	}

	cutoff := s.now().Add(-maxAge)
	purged := 0
	for _, snap := range snaps {
		var room domain.Room
		if err := snap.DataTo(&room); err != nil {
			s.logger.Warn("skipping undecodable room", "roomCode", snap.Ref.ID, "error", err)
			continue
		}
		if !room.CreatedAt.Before(cutoff) {
			continue
		}
		code := room.Code
		err := s.run(ctx, func(tx docstore.Tx) error {
			current, err := loadRoom(tx, code)
			if err != nil {
				return err
			}
			if !current.CreatedAt.Before(cutoff) {
				return nil
			}
			return deleteRoomTree(tx, code)
		})
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return purged, err
		}
		purged++
		s.logger.Info("stale room cleaned up", "roomCode", code)
	}
	return purged, nil
}

// NormalizeCode canonicalizes user-typed room codes
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// generateCode generates a random code from the given alphabet
func generateCode(alphabet string, length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	code := make([]byte, length)
	for i := range code {
		code[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(code), nil
}

// samplePrompts draws n prompts uniformly without replacement
func samplePrompts(pool []string, n int) []string {
	perm := mrand.Perm(len(pool))
	out := make([]string, 0, n)
	for _, idx := range perm[:n] {
		out = append(out, pool[idx])
	}
	return out
}
