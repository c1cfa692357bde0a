package matrix

import (
	"context"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// SyncState persists small per-account values. *store.Store implements it
// over the matrix_sync_state table.
type SyncState interface {
	SaveSyncState(ctx context.Context, userID, key, value string) error
	LoadSyncState(ctx context.Context, userID, key string) (string, error)
}

const (
	keyFilterID  = "filter_id"
	keyNextBatch = "next_batch"
)

// syncStore adapts SyncState to mautrix.SyncStore so a restart resumes from
// the last /sync position instead of replaying room history.
type syncStore struct {
	state SyncState
}

var _ mautrix.SyncStore = (*syncStore)(nil)

func (s *syncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.state.SaveSyncState(ctx, userID.String(), keyFilterID, filterID)
}

func (s *syncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.LoadSyncState(ctx, userID.String(), keyFilterID)
}

func (s *syncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.state.SaveSyncState(ctx, userID.String(), keyNextBatch, nextBatchToken)
}

func (s *syncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.LoadSyncState(ctx, userID.String(), keyNextBatch)
}
