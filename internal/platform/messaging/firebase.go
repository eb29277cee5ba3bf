package messaging

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fcm "firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCM rejects multicast batches above this size.
const maxMulticastTokens = 500

type multicastClient interface {
	SendEachForMulticast(ctx context.Context, message *fcm.MulticastMessage) (*fcm.BatchResponse, error)
}

// FirebasePushSender sends notifications through Firebase Cloud Messaging.
type FirebasePushSender struct {
	client multicastClient
}

// NewFirebasePushSender initialises the Firebase app from a service account
// file, or application default credentials when the path is empty.
func NewFirebasePushSender(ctx context.Context, credentialsFile string) (*FirebasePushSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: init app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: init messaging: %w", err)
	}
	return &FirebasePushSender{client: client}, nil
}

func (s *FirebasePushSender) Push(ctx context.Context, msg PushMessage) ([]string, error) {
	var stale []string
	for start := 0; start < len(msg.Tokens); start += maxMulticastTokens {
		end := start + maxMulticastTokens
		if end > len(msg.Tokens) {
			end = len(msg.Tokens)
		}
		batch := msg.Tokens[start:end]

		resp, err := s.client.SendEachForMulticast(ctx, buildMulticast(msg, batch))
		if err != nil {
			return stale, fmt.Errorf("firebase: multicast: %w", err)
		}
		for i, r := range resp.Responses {
			if !r.Success && fcm.IsUnregistered(r.Error) {
				stale = append(stale, batch[i])
			}
		}
	}
	return stale, nil
}

func buildMulticast(msg PushMessage, tokens []string) *fcm.MulticastMessage {
	return &fcm.MulticastMessage{
		Tokens: tokens,
		Data:   msg.Data,
		Notification: &fcm.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Android: &fcm.AndroidConfig{
			Priority: "high",
			Notification: &fcm.AndroidNotification{
				Sound:    "default",
				Priority: fcm.PriorityHigh,
			},
		},
		APNS: &fcm.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
			Payload: &fcm.APNSPayload{
				Aps: &fcm.Aps{
					Alert: &fcm.ApsAlert{Title: msg.Title, Body: msg.Body},
					Sound: "default",
				},
			},
		},
	}
}
