// Package models defines the local entities persisted in the tagmesh store
// and the document types published to the content-addressable network.
//
// All timestamps are Unix epoch milliseconds so that locally stored entities
// and published JSON documents share one representation and signatures stay
// stable across marshalling.
package models

import (
	"regexp"
	"strings"
	"time"
)

// SyncStatus tracks whether a tag's latest local state has been published.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
)

// SyncOpStatus is the state of a queued synchronization work item.
type SyncOpStatus string

const (
	SyncOpPending    SyncOpStatus = "pending"
	SyncOpInProgress SyncOpStatus = "in_progress"
	SyncOpCompleted  SyncOpStatus = "completed"
	SyncOpFailed     SyncOpStatus = "failed"
	SyncOpConflict   SyncOpStatus = "conflict"
)

// EntityType classifies what a SyncState entry refers to.
type EntityType string

const (
	EntityTags         EntityType = "tags"
	EntitySubscription EntityType = "subscription"
	EntityIdentity     EntityType = "identity"
)

// Operation is the kind of change a SyncState entry propagates.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// NowMillis returns the current time as Unix epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// User is a known identity: the local user (IsSelf) or a followed peer.
type User struct {
	ID          string `json:"id"`
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	PublicKey   string `json:"publicKey"`
	NameKey     string `json:"nameKey"`
	Verified    bool   `json:"verified"`
	ProofURL    string `json:"proofUrl,omitempty"`
	IsSelf      bool   `json:"isSelf"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// Tag is a label the owning user attached to a third-party account.
type Tag struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Label        string     `json:"label"`
	Color        string     `json:"color"`
	Description  string     `json:"description,omitempty"`
	Owner        string     `json:"owner"`
	SyncStatus   SyncStatus `json:"syncStatus"`
	CreatedAt    int64      `json:"createdAt"`
	UpdatedAt    int64      `json:"updatedAt"`
	LastSyncedAt int64      `json:"lastSyncedAt,omitempty"`
}

// TagUpdate carries the optional fields of a tag update. Nil means
// "leave unchanged".
type TagUpdate struct {
	Username    *string
	Label       *string
	Color       *string
	Description *string
	SyncStatus  *SyncStatus
}

// TouchesContent reports whether the update modifies the published content
// of the tag, which forces the tag back to pending sync.
func (u TagUpdate) TouchesContent() bool {
	return u.Username != nil || u.Label != nil || u.Color != nil || u.Description != nil
}

// Subscription records "I follow User X". UserID is unique.
type Subscription struct {
	ID            string `json:"id"`
	UserID        string `json:"userId"`
	IsActive      bool   `json:"isActive"`
	SyncEnabled   bool   `json:"syncEnabled"`
	LastFetchedAt int64  `json:"lastFetchedAt,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
}

// SyncState is an outstanding synchronization work item. At most one entry
// with status pending/in_progress exists per EntityID.
type SyncState struct {
	ID            string       `json:"id"`
	EntityType    EntityType   `json:"entityType"`
	EntityID      string       `json:"entityId"`
	Operation     Operation    `json:"operation"`
	Status        SyncOpStatus `json:"status"`
	LocalVersion  int64        `json:"localVersion"`
	RemoteVersion int64        `json:"remoteVersion,omitempty"`
	ConflictData  []byte       `json:"conflictData,omitempty"`
	ErrorMessage  string       `json:"errorMessage,omitempty"`
	RetryCount    int          `json:"retryCount"`
	NextRetryAt   int64        `json:"nextRetryAt,omitempty"`
	CreatedAt     int64        `json:"createdAt"`
	UpdatedAt     int64        `json:"updatedAt"`
}

// CacheKind names one of the TTL caches.
type CacheKind string

const (
	CacheManifest               CacheKind = "manifest"
	CacheTagCollection          CacheKind = "tag_collection"
	CacheSubscriptionCollection CacheKind = "subscription_collection"
	CacheIdentity               CacheKind = "identity"
	CacheDiscoveryRecord        CacheKind = "discovery_record"
)

// CacheEntry is a validity-bounded copy of a fetched or published document.
// Kind selects the logical cache; SubjectID is the user id, DID or lookup
// key the document belongs to; Payload is the serialized document.
type CacheEntry struct {
	ID        string    `json:"id"`
	Kind      CacheKind `json:"kind"`
	SubjectID string    `json:"subjectId"`
	Handle    string    `json:"handle"`
	ContentID string    `json:"contentId"`
	Payload   []byte    `json:"payload"`
	IsValid   bool      `json:"isValid"`
	ExpiresAt int64     `json:"expiresAt"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
}

// Expired reports whether the entry is past its TTL at the given time.
func (e *CacheEntry) Expired(nowMillis int64) bool {
	return e.ExpiresAt <= nowMillis
}

// ContentBlock holds raw bytes under a content address. Blocks are evicted
// in LRU order under size pressure unless pinned.
type ContentBlock struct {
	ContentID      string `json:"contentId"`
	Data           []byte `json:"data"`
	Size           int64  `json:"size"`
	Pinned         bool   `json:"pinned"`
	LastAccessedAt int64  `json:"lastAccessedAt"`
	ExpiresAt      int64  `json:"expiresAt,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}

// handleRe matches the account handles tags and identities are keyed by:
// 1-15 word characters, optionally prefixed with '@'.
var handleRe = regexp.MustCompile(`^@?[A-Za-z0-9_]{1,15}$`)

// ValidHandle reports whether s is an acceptable account handle.
func ValidHandle(s string) bool {
	return handleRe.MatchString(s)
}

// NormalizeHandle lowercases a handle and strips the optional '@' prefix.
func NormalizeHandle(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "@"))
}
