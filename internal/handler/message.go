package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/identity"
	"github.com/tagmesh/tagmesh/internal/models"
)

// Message types accepted by the /v1/message endpoint. The union is closed:
// anything else is rejected up front.
const (
	MsgCreateIdentity       = "CREATE_IDENTITY"
	MsgVerifyIdentity       = "VERIFY_IDENTITY"
	MsgPublishTags          = "PUBLISH_TAGS"
	MsgDiscoverHandle       = "DISCOVER_HANDLE"
	MsgSubscribeToUser      = "SUBSCRIBE_TO_USER"
	MsgUnsubscribeFromUser  = "UNSUBSCRIBE_FROM_USER"
	MsgListSubscriptions    = "LIST_SUBSCRIPTIONS"
	MsgRefreshSubscriptions = "REFRESH_SUBSCRIPTIONS"
	MsgGetSubscriptionFeed  = "GET_SUBSCRIPTION_FEED"
	MsgUpdateSubSettings    = "UPDATE_SUBSCRIPTION_SETTINGS"
	MsgListTags             = "LIST_TAGS"
	MsgSaveTag              = "SAVE_TAG"
	MsgDeleteTag            = "DELETE_TAG"
	MsgGetSyncStats         = "GET_SYNC_STATS"
)

// Envelope is the request body of /v1/message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandleMessage decodes the envelope and dispatches on its type.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed message envelope"})
		return
	}

	result, err := h.dispatch(r.Context(), &env)
	if err != nil {
		h.logger.Warn(r.Context(), "message failed", "type", env.Type, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) dispatch(ctx context.Context, env *Envelope) (any, error) {
	switch env.Type {
	case MsgCreateIdentity:
		return h.createIdentity(ctx, env.Payload)
	case MsgVerifyIdentity:
		return h.verifyIdentity(ctx, env.Payload)
	case MsgPublishTags:
		return h.publishTags(ctx)
	case MsgDiscoverHandle:
		return h.discoverHandle(ctx, env.Payload)
	case MsgSubscribeToUser:
		return h.subscribeToUser(ctx, env.Payload)
	case MsgUnsubscribeFromUser:
		return h.unsubscribeFromUser(ctx, env.Payload)
	case MsgListSubscriptions:
		return h.listSubscriptions(ctx)
	case MsgRefreshSubscriptions:
		return h.refreshSubscriptions(ctx)
	case MsgGetSubscriptionFeed:
		return h.coord.SubscriptionFeed(ctx)
	case MsgUpdateSubSettings:
		return h.updateSubscriptionSettings(ctx, env.Payload)
	case MsgListTags:
		return h.listTags(ctx, env.Payload)
	case MsgSaveTag:
		return h.saveTag(ctx, env.Payload)
	case MsgDeleteTag:
		return h.deleteTag(ctx, env.Payload)
	case MsgGetSyncStats:
		return h.queue.Stats(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", common.ErrValidation, env.Type)
	}
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", common.ErrValidation)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return nil
}

type createIdentityRequest struct {
	Passphrase string `json:"passphrase"`
	Handle     string `json:"handle"`
}

type identityResponse struct {
	DID      string `json:"did"`
	Handle   string `json:"handle"`
	NameKey  string `json:"nameKey"`
	Unlocked bool   `json:"unlocked"`
}

func (h *Handler) createIdentity(ctx context.Context, payload json.RawMessage) (any, error) {
	var req createIdentityRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}

	kp, err := identity.DeriveKeypair(req.Passphrase)
	if err != nil {
		return nil, err
	}
	self, err := h.users.UpsertSelf(ctx, kp.DID(), req.Handle, kp.PublicKeyMultibase(), kp.NameKey())
	if err != nil {
		return nil, err
	}
	if err := identity.SaveKeystore(h.keystorePath, kp, req.Handle, req.Passphrase); err != nil {
		return nil, err
	}
	h.coord.SetKeypair(kp)

	// The identity reaches the network through the queue, so a dead
	// store at creation time only delays publication.
	if _, err := h.queue.Queue(ctx, models.EntityIdentity, self.ID, models.OpCreate); err != nil {
		return nil, err
	}

	return identityResponse{DID: self.DID, Handle: self.Handle, NameKey: kp.NameKey(), Unlocked: true}, nil
}

type verifyIdentityRequest struct {
	Passphrase string `json:"passphrase,omitempty"`
}

func (h *Handler) verifyIdentity(ctx context.Context, payload json.RawMessage) (any, error) {
	self, err := h.users.GetSelf(ctx)
	if err != nil {
		return nil, err
	}

	var req verifyIdentityRequest
	if len(payload) > 0 {
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
	}

	// With a passphrase this doubles as the unlock operation.
	if req.Passphrase != "" {
		ks, err := identity.LoadKeystore(h.keystorePath)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, common.ErrNoIdentity
			}
			return nil, err
		}
		kp, err := identity.UnlockKeystore(ks, req.Passphrase)
		if err != nil {
			return nil, err
		}
		if kp.DID() != self.DID {
			return nil, fmt.Errorf("%w: keystore does not match current identity", common.ErrConflict)
		}
		h.coord.SetKeypair(kp)
	}

	return identityResponse{
		DID:      self.DID,
		Handle:   self.Handle,
		NameKey:  self.NameKey,
		Unlocked: h.coord.Unlocked(),
	}, nil
}

type publishResponse struct {
	Published bool `json:"published"`
}

func (h *Handler) publishTags(ctx context.Context) (any, error) {
	if err := h.coord.PublishAll(ctx); err != nil {
		return nil, err
	}
	return publishResponse{Published: true}, nil
}

type handleRequest struct {
	Handle string `json:"handle"`
}

func (h *Handler) discoverHandle(ctx context.Context, payload json.RawMessage) (any, error) {
	var req handleRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	return h.coord.DiscoverHandle(ctx, req.Handle)
}

type subscribeRequest struct {
	Handle      string `json:"handle,omitempty"`
	UserID      string `json:"userId,omitempty"`
	SyncEnabled *bool  `json:"syncEnabled,omitempty"`
}

func (h *Handler) subscribeToUser(ctx context.Context, payload json.RawMessage) (any, error) {
	var req subscribeRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}

	userID := req.UserID
	if userID == "" {
		if req.Handle == "" {
			return nil, fmt.Errorf("%w: handle or userId required", common.ErrValidation)
		}
		u, err := h.coord.DiscoverHandle(ctx, req.Handle)
		if err != nil {
			return nil, err
		}
		userID = u.ID
	}

	syncEnabled := true
	if req.SyncEnabled != nil {
		syncEnabled = *req.SyncEnabled
	}
	sub, err := h.subs.Subscribe(ctx, userID, syncEnabled)
	if err != nil {
		return nil, err
	}

	// Pull their content right away and republish our own subscription
	// collection in the background.
	h.coord.SyncUserContent(ctx, userID)
	if err := h.queueRepublish(ctx); err != nil {
		return nil, err
	}
	return sub, nil
}

type unsubscribeRequest struct {
	Handle string `json:"handle,omitempty"`
	UserID string `json:"userId,omitempty"`
}

func (h *Handler) unsubscribeFromUser(ctx context.Context, payload json.RawMessage) (any, error) {
	var req unsubscribeRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	userID, err := h.resolveUserID(ctx, req.Handle, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := h.subs.Unsubscribe(ctx, userID); err != nil {
		return nil, err
	}
	if err := h.queueRepublish(ctx); err != nil {
		return nil, err
	}
	return publishResponse{Published: true}, nil
}

// subscriptionItem pairs a subscription with the followed user.
type subscriptionItem struct {
	Subscription models.Subscription `json:"subscription"`
	User         *models.User        `json:"user,omitempty"`
}

func (h *Handler) listSubscriptions(ctx context.Context) (any, error) {
	subs, err := h.subs.List(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]subscriptionItem, 0, len(subs))
	for _, sub := range subs {
		item := subscriptionItem{Subscription: sub}
		if u, err := h.users.GetByID(ctx, sub.UserID); err == nil {
			item.User = u
		}
		items = append(items, item)
	}
	return items, nil
}

type refreshResponse struct {
	Refreshed int `json:"refreshed"`
}

func (h *Handler) refreshSubscriptions(ctx context.Context) (any, error) {
	n, err := h.coord.RefreshSubscriptions(ctx, 0)
	if err != nil {
		return nil, err
	}
	return refreshResponse{Refreshed: n}, nil
}

type updateSubSettingsRequest struct {
	Handle         string `json:"handle,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	SyncEnabled    *bool  `json:"syncEnabled,omitempty"`
}

func (h *Handler) updateSubscriptionSettings(ctx context.Context, payload json.RawMessage) (any, error) {
	var req updateSubSettingsRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}

	subID := req.SubscriptionID
	if subID == "" {
		if req.Handle == "" {
			return nil, fmt.Errorf("%w: handle or subscriptionId required", common.ErrValidation)
		}
		u, err := h.users.GetByHandle(ctx, req.Handle)
		if err != nil {
			return nil, err
		}
		sub, err := h.subs.GetByUserID(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		subID = sub.ID
	}

	if req.SyncEnabled != nil {
		if err := h.subs.SetSyncEnabled(ctx, subID, *req.SyncEnabled); err != nil {
			return nil, err
		}
	}
	return h.subs.Get(ctx, subID)
}

type listTagsRequest struct {
	Query    string `json:"query,omitempty"`
	Username string `json:"username,omitempty"`
}

func (h *Handler) listTags(ctx context.Context, payload json.RawMessage) (any, error) {
	var req listTagsRequest
	if len(payload) > 0 {
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
	}
	switch {
	case req.Username != "":
		return h.tags.ListForUser(ctx, req.Username)
	case req.Query != "":
		return h.tags.Search(ctx, req.Query)
	default:
		return h.tags.List(ctx)
	}
}

type saveTagRequest struct {
	ID          string  `json:"id,omitempty"`
	Username    string  `json:"username,omitempty"`
	Label       *string `json:"label,omitempty"`
	Color       *string `json:"color,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (h *Handler) saveTag(ctx context.Context, payload json.RawMessage) (any, error) {
	var req saveTagRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}

	if req.ID != "" {
		upd := &models.TagUpdate{Label: req.Label, Color: req.Color, Description: req.Description}
		if req.Username != "" {
			upd.Username = &req.Username
		}
		tag, err := h.tags.Update(ctx, req.ID, upd)
		if err != nil {
			return nil, err
		}
		if err := h.queueRepublish(ctx); err != nil {
			return nil, err
		}
		return tag, nil
	}

	self, err := h.users.GetSelf(ctx)
	if err != nil {
		return nil, err
	}
	var label, color, description string
	if req.Label != nil {
		label = *req.Label
	}
	if req.Color != nil {
		color = *req.Color
	}
	if req.Description != nil {
		description = *req.Description
	}
	tag, err := h.tags.Create(ctx, req.Username, label, color, description, self.ID)
	if err != nil {
		return nil, err
	}
	if err := h.queueRepublish(ctx); err != nil {
		return nil, err
	}
	return tag, nil
}

type deleteTagRequest struct {
	ID string `json:"id"`
}

func (h *Handler) deleteTag(ctx context.Context, payload json.RawMessage) (any, error) {
	var req deleteTagRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := h.tags.Delete(ctx, req.ID); err != nil {
		return nil, err
	}
	if err := h.queueRepublish(ctx); err != nil {
		return nil, err
	}
	return publishResponse{Published: true}, nil
}

// resolveUserID maps a handle to a locally known user id. An explicit
// userId wins when both are present.
func (h *Handler) resolveUserID(ctx context.Context, handle, userID string) (string, error) {
	if userID != "" {
		return userID, nil
	}
	if handle == "" {
		return "", fmt.Errorf("%w: handle or userId required", common.ErrValidation)
	}
	u, err := h.users.GetByHandle(ctx, handle)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// queueRepublish schedules publication of the local user's footprint after
// a local change. Skipped silently when no identity exists yet, since
// there is nothing to publish under.
func (h *Handler) queueRepublish(ctx context.Context) error {
	self, err := h.users.GetSelf(ctx)
	if err != nil {
		if errors.Is(err, common.ErrNoIdentity) {
			return nil
		}
		return err
	}
	_, err = h.queue.Queue(ctx, models.EntityTags, self.ID, models.OpUpdate)
	return err
}
