package app

import (
	"context"

	"crosspub/pkg/pubqueue"
	logx "crosspub/pkg/logx"
)

// logAdapter is the built-in publish adapter: it logs each delivery and
// reports success. Real platform integrations implement pubqueue.Adapter and
// replace it in NewApp.
type logAdapter struct {
	log logx.Logger
}

func (a logAdapter) Publish(ctx context.Context, item *pubqueue.Item, platform string) (pubqueue.PublishResult, error) {
	select {
	case <-ctx.Done():
		return pubqueue.PublishResult{}, ctx.Err()
	default:
	}
	a.log.Info("publish",
		logx.String("platform", platform),
		logx.String("item", item.ID),
		logx.String("title", item.Title),
		logx.Int("body_len", len(item.Body)),
	)
	return pubqueue.PublishResult{Success: true, RemoteID: "log:" + item.ID}, nil
}
