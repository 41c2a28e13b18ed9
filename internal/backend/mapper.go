package backend

import (
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// friendRequestEnvelope announces req to its receiver. The receiver is implied
// by the connection, so receiverId is left out.
func friendRequestEnvelope(req store.FriendRequest) (proto.Envelope, error) {
	return proto.NewEnvelope(proto.EventFriendRequest, proto.FriendRequestData{
		ID: req.ID,
		Sender: proto.SenderData{
			ID:       req.Sender.ID,
			Name:     req.Sender.Name,
			Avatar:   req.Sender.Avatar,
			Username: req.Sender.Username,
		},
		SenderID:  req.SenderID,
		Status:    string(req.Status),
		CreatedAt: req.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// transitionEnvelope builds the event announcing that a request reached status.
func transitionEnvelope(id string, status store.FriendRequestStatus) (proto.Envelope, error) {
	event := ""
	switch status {
	case store.FriendRequestAccepted:
		event = proto.EventFriendRequestAccepted
	case store.FriendRequestRejected:
		event = proto.EventFriendRequestRejected
	case store.FriendRequestCancelled:
		event = proto.EventFriendRequestCancelled
	}
	return proto.NewEnvelope(event, proto.RequestIDData{RequestID: id})
}

// commandTarget maps a transition command to the status it requests.
func commandTarget(event string) (store.FriendRequestStatus, core.CommandKind, bool) {
	switch event {
	case proto.CommandFriendRequestAccept:
		return store.FriendRequestAccepted, core.CommandAcceptFriendRequest, true
	case proto.CommandFriendRequestReject:
		return store.FriendRequestRejected, core.CommandRejectFriendRequest, true
	case proto.CommandFriendRequestCancel:
		return store.FriendRequestCancelled, core.CommandCancelFriendRequest, true
	default:
		return "", 0, false
	}
}

func errorEnvelope(code, msg string) proto.Envelope {
	env, _ := proto.NewEnvelope(proto.EventError, proto.Error{Code: code, Msg: msg})
	return env
}
