package dashboard

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	dirsync "github.com/thaliawww/cxdir/internal/directory/sync"
)

// MembershipUpdateData is the payload of a membership_update message.
type MembershipUpdateData struct {
	UID    string `json:"uid"`
	GID    string `json:"gid"`
	Action string `json:"action"` // added or removed
}

// SyncFailedData is the payload of a sync_failed message.
type SyncFailedData struct {
	RunID string       `json:"run_id"`
	Kind  dirsync.Kind `json:"kind"`
	Error string       `json:"error"`
}

// Handler turns sync and membership events into dashboard messages.
// It implements sync.Observer.
type Handler struct {
	server *Server
	stats  StatsSource
	logger *zap.Logger
}

// NewHandler creates a handler broadcasting through server. Stats may be nil,
// in which case no stats messages follow the events.
func NewHandler(server *Server, stats StatsSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		server: server,
		stats:  stats,
		logger: logger.Named("dashboard"),
	}
}

// PassCompleted broadcasts the result of a successful pass.
func (h *Handler) PassCompleted(res *dirsync.Result) {
	msgType := MessageTypeGroupSync
	if res.Kind == dirsync.KindUsers {
		msgType = MessageTypeUserSync
	}
	h.send(msgType, res)
	h.broadcastStats()
}

// PassFailed broadcasts a sync_failed message.
func (h *Handler) PassFailed(res *dirsync.Result, err error) {
	h.send(MessageTypeSyncFailed, SyncFailedData{
		RunID: res.RunID,
		Kind:  res.Kind,
		Error: err.Error(),
	})
}

// MembershipChanged broadcasts a manual membership change.
func (h *Handler) MembershipChanged(uid, gid string, added bool) {
	action := "removed"
	if added {
		action = "added"
	}
	h.send(MessageTypeMembershipUpdate, MembershipUpdateData{UID: uid, GID: gid, Action: action})
	h.broadcastStats()
}

func (h *Handler) send(msgType MessageType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.String("type", string(msgType)), zap.Error(err))
		return
	}
	h.server.Broadcast(Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func (h *Handler) broadcastStats() {
	if h.stats == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := h.stats.GetStats(ctx)
	if err != nil {
		h.logger.Warn("failed to load stats", zap.Error(err))
		return
	}
	h.send(MessageTypeStats, stats)
}
