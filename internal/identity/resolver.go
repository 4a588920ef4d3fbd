// Package identity maps ephemeral game identities (Steam ids, bot names) to
// durable player records, collapsing concurrent resolutions of the same
// identity into a single database write.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ernie/hlstatsd/internal/domain"
)

// ErrInvalidIdentity is returned for malformed external ids, empty display
// names, or otherwise unusable identity input. It is raised before any I/O.
var ErrInvalidIdentity = errors.New("invalid player identity")

// PlayerStore is the persistence collaborator. UpsertPlayer must be
// idempotent on (external id, game) so retries are safe.
type PlayerStore interface {
	UpsertPlayer(ctx context.Context, params domain.UpsertPlayerParams) (*domain.Player, error)
}

// Accepted external id shapes: STEAM_X:Y:Z, [U:1:12345], or a 17-digit
// Steam64 id. Bot ids are rewritten before validation and never hit this.
var steamIDPattern = regexp.MustCompile(`^(STEAM_\d:\d:\d+|\[U:\d:\d+\]|\d{17})$`)

type entryKey struct {
	game       string
	externalID string
}

// entry is either an in-flight resolution (done still open) or a resolved
// one. Callers that find an existing entry wait on done instead of issuing a
// second upsert.
type entry struct {
	done     chan struct{}
	playerID int64
	err      error
}

// Resolver resolves (game, external id, display name) tuples to durable
// player ids with at most one in-flight resolution per identity.
type Resolver struct {
	store       PlayerStore
	defaultGame string

	mu      sync.Mutex
	entries map[entryKey]*entry
}

// NewResolver creates a resolver backed by the given player store.
func NewResolver(store PlayerStore, defaultGame string) *Resolver {
	return &Resolver{
		store:       store,
		defaultGame: defaultGame,
		entries:     make(map[entryKey]*entry),
	}
}

// Resolve returns the durable player id for an identity, creating the player
// on first sight. Concurrent calls for the same identity share one upsert and
// observe the same outcome. serverID scopes bot identities so bots with the
// same name on different servers never collapse into one player.
func (r *Resolver) Resolve(ctx context.Context, externalID, displayName, gameCode string, serverID int64) (int64, error) {
	game := domain.NormalizeGameCode(gameCode, r.defaultGame)

	externalID = strings.TrimSpace(externalID)
	displayName = strings.TrimSpace(displayName)

	isBot := strings.EqualFold(externalID, "BOT")
	if isBot {
		// Distinct bots share the literal id "BOT"; scope them by server
		// and name so they stay distinct players. The display name shown
		// to users is left as-is.
		externalID = fmt.Sprintf("BOT_%d_%s", serverID, displayName)
	}

	if err := validate(externalID, displayName, game, isBot); err != nil {
		return 0, err
	}

	key := entryKey{game: game, externalID: externalID}

	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		r.mu.Unlock()
		return r.await(ctx, e)
	}
	e := &entry{done: make(chan struct{})}
	r.entries[key] = e
	r.mu.Unlock()

	player, err := r.store.UpsertPlayer(ctx, domain.UpsertPlayerParams{
		Game:         game,
		ExternalID:   externalID,
		Name:         displayName,
		InitialSkill: domain.DefaultSkill,
		IsBot:        isBot,
	})
	if err != nil {
		// Remove the entry so a later call can retry; everyone currently
		// awaiting this entry observes the failure.
		r.mu.Lock()
		delete(r.entries, key)
		r.mu.Unlock()
		e.err = fmt.Errorf("resolving %s/%s: %w", game, externalID, err)
		close(e.done)
		return 0, e.err
	}

	e.playerID = player.ID
	close(e.done)
	return player.ID, nil
}

// await blocks until an in-flight entry settles or the context is done.
func (r *Resolver) await(ctx context.Context, e *entry) (int64, error) {
	select {
	case <-e.done:
		return e.playerID, e.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func validate(externalID, displayName, game string, isBot bool) error {
	if externalID == "" {
		return fmt.Errorf("%w: empty external id", ErrInvalidIdentity)
	}
	if displayName == "" {
		return fmt.Errorf("%w: empty display name", ErrInvalidIdentity)
	}
	if game == "" {
		return fmt.Errorf("%w: empty game code", ErrInvalidIdentity)
	}
	if !isBot && !steamIDPattern.MatchString(externalID) {
		return fmt.Errorf("%w: malformed external id %q", ErrInvalidIdentity, externalID)
	}
	return nil
}
