package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// maxTokensPerCall is the FCM multicast limit
const maxTokensPerCall = 500

// PushMessage is the user-visible part of a push notification
type PushMessage struct {
	Title string
	Body  string
	Data  map[string]string
}

// Result summarises one multicast. Unregistered lists tokens FCM no longer
// recognises; Failed counts tokens that failed for any other reason.
type Result struct {
	Sent         int
	Unregistered []string
	Failed       int
	LastErr      error
}

type Client struct {
	msgClient *messaging.Client
	logger    *zap.Logger
}

func NewClient(ctx context.Context, logger *zap.Logger, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	} else {
		logger.Warn("No Firebase credentials file provided, falling back to application default credentials")
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &Client{
		msgClient: msgClient,
		logger:    logger,
	}, nil
}

// SendMulticast pushes msg to every token, in chunks of 500
func (c *Client) SendMulticast(ctx context.Context, tokens []string, msg PushMessage) (*Result, error) {
	res := &Result{}
	for start := 0; start < len(tokens); start += maxTokensPerCall {
		end := start + maxTokensPerCall
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]

		batch, err := c.msgClient.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: chunk,
			Notification: &messaging.Notification{
				Title: msg.Title,
				Body:  msg.Body,
			},
			Data: msg.Data,
		})
		if err != nil {
			return res, fmt.Errorf("fcm multicast failed: %w", err)
		}

		for i, r := range batch.Responses {
			switch {
			case r.Success:
				res.Sent++
			case messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error):
				res.Unregistered = append(res.Unregistered, chunk[i])
			default:
				res.Failed++
				res.LastErr = r.Error
				c.logger.Warn("FCM delivery failed", zap.String("token", chunk[i]), zap.Error(r.Error))
			}
		}
	}
	return res, nil
}
