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

// DiscoverHandle finds the user behind a handle via the discovery record
// published under the handle's lookup key, creating or refreshing the local
// user row. The discovery cache is consulted first.
func (c *Coordinator) DiscoverHandle(ctx context.Context, handle string) (*models.User, error) {
	normalized := models.NormalizeHandle(handle)
	if !models.ValidHandle(normalized) {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidHandle, handle)
	}
	lookupKey := identity.LookupKey(normalized)

	if payload, err := c.cache.GetDocument(ctx, models.CacheDiscoveryRecord, lookupKey); err == nil {
		var rec models.DiscoveryRecord
		if err := json.Unmarshal(payload, &rec); err == nil {
			return c.users.EnsureRemoteUser(ctx, &rec)
		}
		_ = c.cache.Invalidate(ctx, models.CacheDiscoveryRecord, lookupKey)
	}

	cid, err := c.names.Resolve(ctx, lookupNamePrefix+lookupKey)
	if err != nil {
		c.metrics.RecordResolve("error")
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: handle %s not published", common.ErrNotFound, normalized)
		}
		return nil, fmt.Errorf("resolving handle %s: %w", normalized, err)
	}
	c.metrics.RecordResolve("ok")

	payload, err := c.fetchBlock(ctx, cid)
	if err != nil {
		return nil, err
	}
	var rec models.DiscoveryRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("parsing discovery record: %w", err)
	}

	// The record must actually belong to the handle that was asked for.
	if models.NormalizeHandle(rec.Handle) != normalized || rec.LookupKey != lookupKey {
		return nil, fmt.Errorf("%w: discovery record handle mismatch", common.ErrValidation)
	}
	// The claimed DID must embed the record's public key.
	if rec.PublicKey != "" {
		pub, err := identity.DecodePublicKey(rec.PublicKey)
		if err != nil {
			return nil, err
		}
		claimed, err := identity.DecodePublicKey(rec.DID)
		if err != nil {
			return nil, err
		}
		if string(pub) != string(claimed) {
			return nil, fmt.Errorf("%w: discovery record key does not match DID", common.ErrSignatureInvalid)
		}
	}

	if err := c.cache.PutDocument(ctx, models.CacheDiscoveryRecord, lookupKey, normalized, cid, payload); err != nil {
		return nil, err
	}
	return c.users.EnsureRemoteUser(ctx, &rec)
}

// ResolveIdentity fetches a user's DID document, cache first.
func (c *Coordinator) ResolveIdentity(ctx context.Context, did string) (*models.DIDDocument, error) {
	if payload, err := c.cache.GetDocument(ctx, models.CacheIdentity, did); err == nil {
		var doc models.DIDDocument
		if err := json.Unmarshal(payload, &doc); err == nil {
			return &doc, nil
		}
		_ = c.cache.Invalidate(ctx, models.CacheIdentity, did)
	}

	cid, err := c.names.Resolve(ctx, identityNamePrefix+did)
	if err != nil {
		c.metrics.RecordResolve("error")
		return nil, fmt.Errorf("resolving identity %s: %w", did, err)
	}
	c.metrics.RecordResolve("ok")

	payload, err := c.fetchBlock(ctx, cid)
	if err != nil {
		return nil, err
	}
	var doc models.DIDDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parsing identity document: %w", err)
	}
	if doc.ID != did {
		return nil, fmt.Errorf("%w: identity document id mismatch", common.ErrValidation)
	}

	if err := c.cache.PutDocument(ctx, models.CacheIdentity, did, "", cid, payload); err != nil {
		return nil, err
	}
	return &doc, nil
}
