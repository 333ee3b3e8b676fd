package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/getsentry/sentry-go"

	"roopapi/models"
)

const (
	BackendRemote = "remote"
	BackendLocal  = "local"
)

// SaveResult tells the caller where a look actually ended up. When the remote
// backend failed and the look was parked locally instead, Fallback is true
// and RemoteErr carries the original failure.
type SaveResult struct {
	Backend   string
	Fallback  bool
	RemoteErr error
}

// LookRepository is the single source of truth for the session's looks. It
// picks the storage backend from the current identity mode, keeps an
// in-memory feed the API reads from, and serializes mutations so concurrent
// saves cannot interleave their read-modify-write cycles.
type LookRepository struct {
	local  LocalLookStoreProvider
	remote RemoteLookStoreProvider

	// opMu serializes Save and Delete end to end. mu only guards the
	// in-memory feed state and is safe to take from the snapshot callback.
	opMu sync.Mutex
	mu   sync.RWMutex

	mode       models.IdentityMode
	looks      []models.Look
	feedGen    int
	cancelFeed func()

	cancelMonitor func()
}

// NewLookRepository wires the repository to the identity monitor and brings
// the feed up for whatever mode is already active.
func NewLookRepository(monitor *IdentityMonitor, local LocalLookStoreProvider, remote RemoteLookStoreProvider) *LookRepository {
	repo := &LookRepository{
		local:  local,
		remote: remote,
	}
	repo.cancelMonitor = monitor.OnChange(repo.handleModeChange)
	repo.handleModeChange(monitor.Mode())
	return repo
}

// handleModeChange tears down the previous backend's feed and rebuilds the
// in-memory state from the new one. Looks from the old mode never leak into
// the new mode's feed.
func (r *LookRepository) handleModeChange(mode models.IdentityMode) {
	r.mu.Lock()
	if r.cancelFeed != nil {
		r.cancelFeed()
		r.cancelFeed = nil
	}
	r.feedGen++
	gen := r.feedGen
	r.mode = mode
	r.looks = []models.Look{}
	r.mu.Unlock()

	switch mode.State {
	case models.StateGuest:
		looks, err := r.local.LoadAll()
		if err != nil {
			sentry.CaptureException(fmt.Errorf("loading guest looks: %v", err))
		}
		r.applyFeed(gen, looks)
	case models.StateAuthenticated:
		cancel := r.remote.Subscribe(mode.UserID, func(looks []models.Look) {
			r.applyFeed(gen, looks)
		})
		r.mu.Lock()
		if gen == r.feedGen {
			r.cancelFeed = cancel
		} else {
			// Mode flipped again while we were subscribing.
			cancel()
		}
		r.mu.Unlock()
	}
}

// applyFeed replaces the whole in-memory collection. Snapshots from a feed
// that has since been torn down are dropped by the generation check.
func (r *LookRepository) applyFeed(gen int, looks []models.Look) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.feedGen {
		return
	}
	r.looks = looks
}

// List returns the current feed, newest first.
func (r *LookRepository) List() []models.Look {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Look, len(r.looks))
	copy(out, r.looks)
	return out
}

// Save persists a look on the backend the current mode selects. When the
// remote backend fails for an authenticated user, the look is parked in
// local storage instead so the result survives the session; the returned
// SaveResult carries the original remote error.
func (r *LookRepository) Save(ctx context.Context, look models.Look) (SaveResult, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	mode := r.currentMode()
	switch mode.State {
	case models.StateAuthenticated:
		// The feed is owned by the snapshot subscription: a durably saved
		// look becomes visible when the backend streams it back, never by
		// mutating the in-memory collection here.
		_, err := r.remote.Save(ctx, mode.UserID, look)
		if err == nil {
			return SaveResult{Backend: BackendRemote}, nil
		}
		sentry.CaptureException(fmt.Errorf("remote save failed for look %s, falling back to local: %v", look.ID, err))
		if localErr := r.local.AppendOne(look); localErr != nil {
			return SaveResult{Backend: BackendRemote, RemoteErr: err}, fmt.Errorf("look %s lost, local fallback failed after remote error (%v): %w", look.ID, err, localErr)
		}
		r.prepend(look)
		return SaveResult{Backend: BackendLocal, Fallback: true, RemoteErr: err}, nil
	case models.StateGuest:
		if err := r.local.AppendOne(look); err != nil {
			return SaveResult{Backend: BackendLocal}, err
		}
		r.prepend(look)
		return SaveResult{Backend: BackendLocal}, nil
	default:
		return SaveResult{}, models.ErrNoActiveSession
	}
}

// Delete removes a look from the active backend. Deleting a look that is
// already gone succeeds. Unlike Save there is no cross-backend fallback: a
// remote delete that fails is reported, not retried against local state.
func (r *LookRepository) Delete(ctx context.Context, id string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	mode := r.currentMode()
	switch mode.State {
	case models.StateAuthenticated:
		// Like Save, removal reaches the feed through the subscription.
		return r.remote.Delete(ctx, mode.UserID, id, r.blobKeyFor(id))
	case models.StateGuest:
		if err := r.local.RemoveOne(id); err != nil {
			return err
		}
		r.drop(id)
		return nil
	default:
		return models.ErrNoActiveSession
	}
}

// Close detaches from the identity monitor and stops any live feed.
func (r *LookRepository) Close() {
	if r.cancelMonitor != nil {
		r.cancelMonitor()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelFeed != nil {
		r.cancelFeed()
		r.cancelFeed = nil
	}
	r.feedGen++
	r.looks = []models.Look{}
}

func (r *LookRepository) currentMode() models.IdentityMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

func (r *LookRepository) blobKeyFor(id string) *string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, look := range r.looks {
		if look.ID == id {
			return look.RemoteBlobKey
		}
	}
	return nil
}

func (r *LookRepository) prepend(look models.Look) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.looks = append([]models.Look{look}, r.looks...)
}

func (r *LookRepository) drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.looks[:0:0]
	for _, look := range r.looks {
		if look.ID != id {
			kept = append(kept, look)
		}
	}
	r.looks = kept
}
