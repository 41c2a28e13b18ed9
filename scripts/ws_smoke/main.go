package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-sync/internal/api"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// ws_smoke signs in the two demo users of a running devbackend, sends a
// friend request from one to the other and accepts it over the realtime
// channel.
func main() {
	apiURL := flag.String("api", "http://localhost:8080/api", "REST base URL")
	wsURL := flag.String("ws", "ws://localhost:8080/ws", "WebSocket address")
	receiver := flag.String("receiver", "alice@example.com", "email of the user receiving the request")
	sender := flag.String("sender", "bob@example.com", "email of the user sending the request")
	password := flag.String("password", "password", "password of both users")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, *apiURL, *wsURL, *receiver, *sender, *password); err != nil {
		log.Fatalf("ws_smoke: %v", err)
	}
}

func run(ctx context.Context, apiURL, wsURL, receiver, sender, password string) error {
	anon := api.NewClient(nil, apiURL, nil, nil)

	rcv, err := anon.Login(ctx, receiver, password)
	if err != nil {
		return fmt.Errorf("login %s: %w", receiver, err)
	}
	snd, err := anon.Login(ctx, sender, password)
	if err != nil {
		return fmt.Errorf("login %s: %w", sender, err)
	}

	rconn, err := dial(ctx, wsURL, rcv.Token)
	if err != nil {
		return err
	}
	defer rconn.Close(websocket.StatusNormalClosure, "bye")
	sconn, err := dial(ctx, wsURL, snd.Token)
	if err != nil {
		return err
	}
	defer sconn.Close(websocket.StatusNormalClosure, "bye")

	senderToken := snd.Token
	client := api.NewClient(nil, apiURL, func() string { return senderToken }, nil)
	sent, err := client.SendFriendRequest(ctx, rcv.User.ID)
	if err != nil {
		return fmt.Errorf("send friend request: %w", err)
	}
	fmt.Printf("Sent friend request %s from %s to %s\n", sent.ID, sender, receiver)

	if err := waitFor(ctx, rconn, proto.EventFriendRequest, func(raw json.RawMessage) bool {
		var evt proto.FriendRequestData
		return json.Unmarshal(raw, &evt) == nil && evt.ID == sent.ID
	}); err != nil {
		return err
	}

	accept, err := proto.NewEnvelope(proto.CommandFriendRequestAccept, proto.RequestIDData{RequestID: sent.ID})
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, rconn, accept); err != nil {
		return fmt.Errorf("send accept: %w", err)
	}

	if err := waitFor(ctx, sconn, proto.EventFriendRequestAccepted, func(raw json.RawMessage) bool {
		var evt proto.RequestIDData
		return json.Unmarshal(raw, &evt) == nil && evt.RequestID == sent.ID
	}); err != nil {
		return err
	}
	fmt.Printf("Friend request %s accepted\n", sent.ID)
	return nil
}

func dial(ctx context.Context, wsURL, token string) (*websocket.Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	q.Set(proto.TokenQueryParam, token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// waitFor reads frames from conn until one named event satisfies match.
func waitFor(ctx context.Context, conn *websocket.Conn, event string, match func(json.RawMessage) bool) error {
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("Received event=%s data=%s\n", env.Event, string(env.Data))

		switch env.Event {
		case event:
			if match(env.Data) {
				return nil
			}
		case proto.EventError:
			return fmt.Errorf("server error: %s", string(env.Data))
		}
	}
}
