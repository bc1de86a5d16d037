package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/identity"
	"github.com/tagmesh/tagmesh/internal/models"
)

const documentVersion = models.DocumentVersion

// PublishAll publishes the local user's full footprint: both collections,
// the manifest pointing at them, and the identity documents. It is the
// single entry point the sync queue uses for local changes.
func (c *Coordinator) PublishAll(ctx context.Context) error {
	tagsCID, err := c.PublishTagCollection(ctx)
	if err != nil {
		return err
	}
	subsCID, err := c.PublishSubscriptionCollection(ctx)
	if err != nil {
		return err
	}
	if _, err := c.PublishManifest(ctx, tagsCID, subsCID); err != nil {
		return err
	}
	return c.PublishIdentity(ctx)
}

// PublishTagCollection signs and stores the current tag collection and
// returns its content id. Tags already covered by an identical published
// collection are left untouched.
func (c *Coordinator) PublishTagCollection(ctx context.Context) (string, error) {
	kp, self, err := c.requireIdentity(ctx)
	if err != nil {
		return "", err
	}

	tags, err := c.tags.ListByOwner(ctx, self.ID)
	if err != nil {
		return "", err
	}

	doc := &models.TagCollection{
		Version:   documentVersion,
		Handle:    self.Handle,
		Tags:      tags,
		CreatedAt: self.CreatedAt,
		UpdatedAt: c.now(),
	}
	cid, payload, err := c.putSigned(ctx, kp, doc, func(s string) { doc.Signature = s })
	if err != nil {
		c.metrics.RecordPublish(string(models.CacheTagCollection), "error")
		return "", err
	}

	syncedAt := c.now()
	for i := range tags {
		if tags[i].SyncStatus != models.SyncStatusPending {
			continue
		}
		if err := c.tags.MarkSynced(ctx, tags[i].ID, syncedAt); err != nil {
			return "", err
		}
	}

	if err := c.cache.PutDocument(ctx, models.CacheTagCollection, self.DID, self.Handle, cid, payload); err != nil {
		return "", err
	}
	c.metrics.RecordPublish(string(models.CacheTagCollection), "ok")
	c.logger.Info(ctx, "published tag collection", "cid", cid, "tags", len(tags))
	return cid, nil
}

// PublishSubscriptionCollection signs and stores the public form of the
// user's active subscriptions.
func (c *Coordinator) PublishSubscriptionCollection(ctx context.Context) (string, error) {
	kp, self, err := c.requireIdentity(ctx)
	if err != nil {
		return "", err
	}

	active, err := c.subs.Active(ctx)
	if err != nil {
		return "", err
	}

	public := make([]models.PublicSubscription, 0, len(active))
	for _, sub := range active {
		u, err := c.users.GetByID(ctx, sub.UserID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				c.logger.Warn(ctx, "subscription references unknown user", "user_id", sub.UserID)
				continue
			}
			return "", err
		}
		public = append(public, models.PublicSubscription{
			Handle:      u.Handle,
			DID:         u.DID,
			DisplayName: u.DisplayName,
			CreatedAt:   sub.CreatedAt,
		})
	}

	doc := &models.SubscriptionCollection{
		Version:       documentVersion,
		Handle:        self.Handle,
		Subscriptions: public,
		CreatedAt:     self.CreatedAt,
		UpdatedAt:     c.now(),
	}
	cid, payload, err := c.putSigned(ctx, kp, doc, func(s string) { doc.Signature = s })
	if err != nil {
		c.metrics.RecordPublish(string(models.CacheSubscriptionCollection), "error")
		return "", err
	}

	if err := c.cache.PutDocument(ctx, models.CacheSubscriptionCollection, self.DID, self.Handle, cid, payload); err != nil {
		return "", err
	}
	c.metrics.RecordPublish(string(models.CacheSubscriptionCollection), "ok")
	c.logger.Info(ctx, "published subscription collection", "cid", cid, "subscriptions", len(public))
	return cid, nil
}

// PublishManifest signs the manifest referencing both collection content
// ids, stores it and repoints the user's name key at it.
func (c *Coordinator) PublishManifest(ctx context.Context, tagsCID, subsCID string) (string, error) {
	kp, self, err := c.requireIdentity(ctx)
	if err != nil {
		return "", err
	}

	doc := &models.Manifest{
		Version:     documentVersion,
		Handle:      self.Handle,
		Collections: models.ManifestCollections{Tags: tagsCID, Subscriptions: subsCID},
		CreatedAt:   self.CreatedAt,
		UpdatedAt:   c.now(),
	}
	cid, payload, err := c.putSigned(ctx, kp, doc, func(s string) { doc.Signature = s })
	if err != nil {
		c.metrics.RecordPublish(string(models.CacheManifest), "error")
		return "", err
	}

	if err := c.names.Publish(ctx, kp.NameKey(), cid); err != nil {
		c.metrics.RecordPublish(string(models.CacheManifest), "error")
		return "", fmt.Errorf("publishing manifest name: %w", err)
	}
	if err := c.cache.PutDocument(ctx, models.CacheManifest, self.DID, self.Handle, cid, payload); err != nil {
		return "", err
	}
	c.metrics.RecordPublish(string(models.CacheManifest), "ok")
	c.logger.Info(ctx, "published manifest", "cid", cid, "name", kp.NameKey())
	return cid, nil
}

// PublishIdentity stores the DID document and the handle discovery record,
// making the user findable by handle.
func (c *Coordinator) PublishIdentity(ctx context.Context) error {
	kp, self, err := c.requireIdentity(ctx)
	if err != nil {
		return err
	}

	manifestCID, err := c.names.Resolve(ctx, kp.NameKey())
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}

	doc := identity.BuildDIDDocument(kp, manifestCID, self.ProofURL)
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding identity document: %w", err)
	}
	docCID, err := c.store.Put(ctx, docBytes)
	if err != nil {
		c.metrics.RecordPublish(string(models.CacheIdentity), "error")
		return err
	}
	if err := c.names.Publish(ctx, identityNamePrefix+self.DID, docCID); err != nil {
		return fmt.Errorf("publishing identity name: %w", err)
	}
	if err := c.cache.PutDocument(ctx, models.CacheIdentity, self.DID, self.Handle, docCID, docBytes); err != nil {
		return err
	}

	rec := &models.DiscoveryRecord{
		LookupKey: identity.LookupKey(self.Handle),
		Handle:    self.Handle,
		DID:       self.DID,
		NameKey:   kp.NameKey(),
		PublicKey: kp.PublicKeyMultibase(),
		ProofURL:  self.ProofURL,
		UpdatedAt: c.now(),
	}
	recBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding discovery record: %w", err)
	}
	recCID, err := c.store.Put(ctx, recBytes)
	if err != nil {
		c.metrics.RecordPublish(string(models.CacheIdentity), "error")
		return err
	}
	if err := c.names.Publish(ctx, lookupNamePrefix+rec.LookupKey, recCID); err != nil {
		return fmt.Errorf("publishing discovery record: %w", err)
	}
	if err := c.cache.PutDocument(ctx, models.CacheDiscoveryRecord, rec.LookupKey, self.Handle, recCID, recBytes); err != nil {
		return err
	}

	c.metrics.RecordPublish(string(models.CacheIdentity), "ok")
	c.logger.Info(ctx, "published identity", "did", self.DID, "lookup_key", rec.LookupKey)
	return nil
}

// putSigned signs a document in place, stores its JSON in the content store
// and pins a local copy. Returns the content id and the stored bytes.
func (c *Coordinator) putSigned(ctx context.Context, kp *identity.Keypair, doc any, setSig func(string)) (string, []byte, error) {
	if err := signDocument(kp, doc, setSig); err != nil {
		return "", nil, err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", nil, fmt.Errorf("encoding document: %w", err)
	}
	cid, err := c.store.Put(ctx, payload)
	if err != nil {
		return "", nil, fmt.Errorf("storing document: %w", err)
	}
	// Own documents stay pinned so cache pruning never drops them.
	if err := c.cache.StoreBlock(ctx, cid, payload, true); err != nil {
		return "", nil, err
	}
	return cid, payload, nil
}

func (c *Coordinator) requireIdentity(ctx context.Context) (*identity.Keypair, *models.User, error) {
	kp := c.keypair()
	if kp == nil {
		return nil, nil, common.ErrNoIdentity
	}
	self, err := c.users.GetSelf(ctx)
	if err != nil {
		return nil, nil, err
	}
	return kp, self, nil
}
