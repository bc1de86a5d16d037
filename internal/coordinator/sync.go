package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/models"
)

// SyncUserContent refreshes one subscribed user's content. Failures are
// absorbed into the sync queue rather than returned, so callers on the
// request path never see transient network errors.
func (c *Coordinator) SyncUserContent(ctx context.Context, userID string) {
	if _, err := c.syncUserContent(ctx, userID); err != nil {
		c.logger.Warn(ctx, "sync failed, queueing retry", "user_id", userID, "error", err)
		if _, qerr := c.queue.Queue(ctx, models.EntitySubscription, userID, models.OpUpdate); qerr != nil {
			c.logger.Error(ctx, "queueing sync operation", "user_id", userID, "error", qerr)
		}
	}
}

// syncUserContent resolves the user's manifest and, when an active
// sync-enabled subscription exists, merges the referenced tag collection.
// Returns the remote manifest version for the sync state record.
func (c *Coordinator) syncUserContent(ctx context.Context, userID string) (int64, error) {
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}

	manifest, err := c.fetchManifest(ctx, user)
	if err != nil {
		return 0, err
	}
	remoteVersion := int64(manifest.Version)

	sub, err := c.subs.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// Not subscribed. The manifest cache is warm, nothing to merge.
			return remoteVersion, nil
		}
		return 0, err
	}
	if !sub.IsActive || !sub.SyncEnabled {
		c.logger.Debug(ctx, "sync disabled, skipping merge", "handle", user.Handle)
		return remoteVersion, nil
	}

	if manifest.Collections.Tags != "" {
		if err := c.mergeRemoteTags(ctx, user, manifest.Collections.Tags); err != nil {
			return 0, err
		}
	}

	if err := c.subs.TouchFetched(ctx, sub.ID, c.now()); err != nil {
		return 0, err
	}

	c.logger.Debug(ctx, "synced user content", "handle", user.Handle)
	return remoteVersion, nil
}

// fetchManifest returns the user's manifest, serving from the document
// cache when a valid entry exists and resolving the name key otherwise.
func (c *Coordinator) fetchManifest(ctx context.Context, user *models.User) (*models.Manifest, error) {
	if payload, err := c.cache.GetDocument(ctx, models.CacheManifest, user.DID); err == nil {
		var m models.Manifest
		if err := json.Unmarshal(payload, &m); err == nil {
			return &m, nil
		}
		// Unparseable cache entry: fall through to a fresh fetch.
		_ = c.cache.Invalidate(ctx, models.CacheManifest, user.DID)
	}

	if user.NameKey == "" {
		return nil, fmt.Errorf("%w: user %s has no name key", common.ErrValidation, user.Handle)
	}
	cid, err := c.names.Resolve(ctx, user.NameKey)
	if err != nil {
		c.metrics.RecordResolve("error")
		return nil, fmt.Errorf("resolving manifest for %s: %w", user.Handle, err)
	}
	c.metrics.RecordResolve("ok")

	payload, err := c.fetchBlock(ctx, cid)
	if err != nil {
		return nil, err
	}

	var m models.Manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := verifyDocument(user.PublicKey, &m, m.Signature, func(s string) { m.Signature = s }); err != nil {
		return nil, fmt.Errorf("manifest for %s: %w", user.Handle, err)
	}

	if err := c.cache.PutDocument(ctx, models.CacheManifest, user.DID, user.Handle, cid, payload); err != nil {
		return nil, err
	}
	return &m, nil
}

// mergeRemoteTags fetches a tag collection, checks its signature and merges
// each tag with last-writer-wins.
func (c *Coordinator) mergeRemoteTags(ctx context.Context, user *models.User, collectionCID string) error {
	payload, err := c.fetchBlock(ctx, collectionCID)
	if err != nil {
		return err
	}

	var col models.TagCollection
	if err := json.Unmarshal(payload, &col); err != nil {
		return fmt.Errorf("parsing tag collection: %w", err)
	}
	if err := verifyDocument(user.PublicKey, &col, col.Signature, func(s string) { col.Signature = s }); err != nil {
		return fmt.Errorf("tag collection for %s: %w", user.Handle, err)
	}

	applied := 0
	for i := range col.Tags {
		remote := col.Tags[i]
		remote.Owner = user.ID
		ok, err := c.tags.ApplyRemote(ctx, &remote)
		if err != nil {
			return err
		}
		if ok {
			applied++
		}
	}

	if err := c.cache.PutDocument(ctx, models.CacheTagCollection, user.DID, user.Handle, collectionCID, payload); err != nil {
		return err
	}
	c.logger.Debug(ctx, "merged remote tags", "handle", user.Handle, "total", len(col.Tags), "applied", applied)
	return nil
}

// fetchBlock returns block bytes, preferring the local block cache over the
// content store. Fetched blocks are cached unpinned.
func (c *Coordinator) fetchBlock(ctx context.Context, cid string) ([]byte, error) {
	if data, err := c.cache.GetBlock(ctx, cid); err == nil {
		return data, nil
	}
	data, err := c.store.Get(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("fetching block %s: %w", cid, err)
	}
	if err := c.cache.StoreBlock(ctx, cid, data, false); err != nil {
		return nil, err
	}
	return data, nil
}

// ProcessPending drains the pending sync queue. Returns how many
// operations completed.
func (c *Coordinator) ProcessPending(ctx context.Context) (int, error) {
	ops, err := c.queue.Pending(ctx)
	if err != nil {
		return 0, err
	}
	return c.processOps(ctx, ops), nil
}

// ProcessRetryable runs failed operations whose backoff has elapsed.
func (c *Coordinator) ProcessRetryable(ctx context.Context) (int, error) {
	ops, err := c.queue.Retryable(ctx)
	if err != nil {
		return 0, err
	}
	return c.processOps(ctx, ops), nil
}

func (c *Coordinator) processOps(ctx context.Context, ops []models.SyncState) int {
	completed := 0
	for i := range ops {
		op := &ops[i]
		if err := c.queue.MarkInProgress(ctx, op.ID); err != nil {
			c.logger.Error(ctx, "claiming sync operation", "id", op.ID, "error", err)
			continue
		}
		remoteVersion, err := c.runOp(ctx, op)
		if err != nil {
			c.logger.Warn(ctx, "sync operation failed", "id", op.ID, "entity", op.EntityID, "error", err)
			if ferr := c.queue.MarkFailed(ctx, op.ID, err); ferr != nil {
				c.logger.Error(ctx, "recording sync failure", "id", op.ID, "error", ferr)
			}
			continue
		}
		if err := c.queue.MarkCompleted(ctx, op.ID, remoteVersion); err != nil {
			c.logger.Error(ctx, "completing sync operation", "id", op.ID, "error", err)
			continue
		}
		completed++
	}
	return completed
}

// runOp dispatches one queued operation. Local entity changes republish the
// user's own footprint; subscription entities pull the remote side. The
// returned version is the remote document version the operation settled on.
func (c *Coordinator) runOp(ctx context.Context, op *models.SyncState) (int64, error) {
	switch op.EntityType {
	case models.EntityTags:
		return documentVersion, c.PublishAll(ctx)
	case models.EntityIdentity:
		return documentVersion, c.PublishIdentity(ctx)
	case models.EntitySubscription:
		if op.Operation == models.OpDelete {
			// The unsubscribe itself already happened locally; publishing
			// removes the user from the public subscription collection.
			return documentVersion, c.PublishAll(ctx)
		}
		return c.syncUserContent(ctx, op.EntityID)
	default:
		return 0, fmt.Errorf("%w: unknown entity type %q", common.ErrInternal, op.EntityType)
	}
}

// RefreshSubscriptions syncs every active, sync-enabled subscription whose
// last fetch is older than maxAge. Returns how many were refreshed.
func (c *Coordinator) RefreshSubscriptions(ctx context.Context, maxAge time.Duration) (int, error) {
	due, err := c.subs.NeedingRefresh(ctx, c.now()-maxAge.Milliseconds())
	if err != nil {
		return 0, err
	}
	for i := range due {
		c.SyncUserContent(ctx, due[i].UserID)
	}
	return len(due), nil
}

// FeedItem groups one subscribed user with their synced tags.
type FeedItem struct {
	User models.User  `json:"user"`
	Tags []models.Tag `json:"tags"`
}

// SubscriptionFeed assembles the locally synced tags of all active
// subscriptions, newest first within each user.
func (c *Coordinator) SubscriptionFeed(ctx context.Context) ([]FeedItem, error) {
	active, err := c.subs.Active(ctx)
	if err != nil {
		return nil, err
	}
	feed := make([]FeedItem, 0, len(active))
	for _, sub := range active {
		u, err := c.users.GetByID(ctx, sub.UserID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			return nil, err
		}
		tags, err := c.tags.ListByOwner(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		feed = append(feed, FeedItem{User: *u, Tags: tags})
	}
	return feed, nil
}
