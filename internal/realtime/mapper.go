package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

var errMissingRequestID = errors.New("missing request id")

// eventFromEnvelope maps a server frame to a domain event. It returns a nil
// event for frames that carry no domain meaning and a protocol error for
// error frames.
func eventFromEnvelope(env proto.Envelope, now time.Time) (*core.Event, *proto.Error, error) {
	switch env.Event {
	case proto.EventFriendRequest:
		var data proto.FriendRequestData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if data.ID == "" {
			return nil, nil, fmt.Errorf("decode %s: %w", env.Event, errMissingRequestID)
		}
		return &core.Event{
			Kind:          core.EventFriendRequest,
			FriendRequest: friendRequestFromData(data, now),
		}, nil, nil
	case proto.EventFriendRequestAccepted:
		return transitionEvent(env, core.EventFriendRequestAccepted)
	case proto.EventFriendRequestRejected:
		return transitionEvent(env, core.EventFriendRequestRejected)
	case proto.EventFriendRequestCancelled:
		return transitionEvent(env, core.EventFriendRequestCancelled)
	case proto.EventError:
		var perr proto.Error
		if err := json.Unmarshal(env.Data, &perr); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return nil, &perr, nil
	default:
		return nil, nil, nil
	}
}

func transitionEvent(env proto.Envelope, kind core.EventKind) (*core.Event, *proto.Error, error) {
	var data proto.RequestIDData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	if data.RequestID == "" {
		return nil, nil, fmt.Errorf("decode %s: %w", env.Event, errMissingRequestID)
	}
	return &core.Event{Kind: kind, RequestID: data.RequestID}, nil, nil
}

func friendRequestFromData(data proto.FriendRequestData, now time.Time) *store.FriendRequest {
	req := &store.FriendRequest{
		ID:         data.ID,
		SenderID:   data.SenderID,
		ReceiverID: data.ReceiverID,
		Status:     store.FriendRequestPending,
		CreatedAt:  now,
		Sender: store.FriendRequestSender{
			ID:       data.Sender.ID,
			Name:     data.Sender.Name,
			Avatar:   data.Sender.Avatar,
			Username: data.Sender.Username,
		},
	}
	if req.SenderID == "" {
		req.SenderID = data.Sender.ID
	}
	if status := store.FriendRequestStatus(data.Status); status.Valid() {
		req.Status = status
	}
	if data.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, data.CreatedAt); err == nil {
			req.CreatedAt = ts
		}
	}
	return req
}

func envelopeFromCommand(cmd core.Command) (proto.Envelope, error) {
	if cmd.RequestID == "" {
		return proto.Envelope{}, errMissingRequestID
	}
	switch cmd.Kind {
	case core.CommandSendFriendRequest:
		if cmd.ReceiverID == "" {
			return proto.Envelope{}, errors.New("missing receiver id")
		}
		return proto.NewEnvelope(proto.CommandFriendRequestSend, proto.SendRequestData{
			RequestID:  cmd.RequestID,
			ReceiverID: cmd.ReceiverID,
		})
	case core.CommandAcceptFriendRequest:
		return proto.NewEnvelope(proto.CommandFriendRequestAccept, proto.RequestIDData{RequestID: cmd.RequestID})
	case core.CommandRejectFriendRequest:
		return proto.NewEnvelope(proto.CommandFriendRequestReject, proto.RequestIDData{RequestID: cmd.RequestID})
	case core.CommandCancelFriendRequest:
		return proto.NewEnvelope(proto.CommandFriendRequestCancel, proto.RequestIDData{RequestID: cmd.RequestID})
	default:
		return proto.Envelope{}, fmt.Errorf("unknown command kind %d", cmd.Kind)
	}
}
