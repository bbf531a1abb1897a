// Package youtube wraps the YouTube Data API v3 calls the pipeline
// depends on: channel resolution and the three-step recent-uploads
// aggregation.
package youtube

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"channel-audit/internal/models"
	"channel-audit/internal/pipeline"
)

// Client talks to the YouTube Data API.
type Client struct {
	svc *yt.Service
}

// NewClient builds an API-key authenticated client. A non-empty
// endpoint overrides the API base URL, which tests use to point at a
// local server.
func NewClient(ctx context.Context, apiKey, endpoint string) (*Client, error) {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("init youtube service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ResolveChannel maps a channel name, handle, or free-text query to a
// channel id via a single search call.
func (c *Client) ResolveChannel(ctx context.Context, query string) (string, error) {
	resp, err := c.svc.Search.List([]string{"snippet"}).
		Q(query).
		Type("channel").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", pipeline.WrapError(pipeline.KindUpstream, fmt.Errorf("search channel: %w", err))
	}
	if len(resp.Items) == 0 {
		return "", pipeline.NewError(pipeline.KindNotFound, "channel not found: %q", query)
	}
	return resp.Items[0].Snippet.ChannelId, nil
}

// FetchRecentVideos returns up to limit recent uploads with their
// statistics. The aggregation is uploads playlist lookup, item
// listing, then one batched statistics call joining every video id.
// Partial results are never returned: any stage failure discards the
// whole fetch.
func (c *Client) FetchRecentVideos(ctx context.Context, channelID string, limit int) ([]models.Video, error) {
	chResp, err := c.svc.Channels.List([]string{"contentDetails"}).
		Id(channelID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, pipeline.WrapError(pipeline.KindUpstream, fmt.Errorf("lookup channel %s: %w", channelID, err))
	}
	if len(chResp.Items) == 0 {
		return nil, pipeline.NewError(pipeline.KindUpstream, "channel %s has no detail record", channelID)
	}
	uploads := chResp.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if uploads == "" {
		return nil, pipeline.NewError(pipeline.KindUpstream, "channel %s has no uploads playlist", channelID)
	}

	plResp, err := c.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
		PlaylistId(uploads).
		MaxResults(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, pipeline.WrapError(pipeline.KindUpstream, fmt.Errorf("list uploads for %s: %w", channelID, err))
	}

	ids := make([]string, 0, len(plResp.Items))
	for _, item := range plResp.Items {
		if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
			ids = append(ids, item.ContentDetails.VideoId)
		}
	}
	// An empty playlist is a valid result, not an error.
	if len(ids) == 0 {
		return []models.Video{}, nil
	}

	statsResp, err := c.svc.Videos.List([]string{"statistics"}).
		Id(strings.Join(ids, ",")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, pipeline.WrapError(pipeline.KindUpstream, fmt.Errorf("fetch statistics: %w", err))
	}
	stats := make(map[string]models.VideoStats, len(statsResp.Items))
	for _, v := range statsResp.Items {
		if v.Statistics == nil {
			continue
		}
		stats[v.Id] = models.VideoStats{
			Views:    v.Statistics.ViewCount,
			Likes:    v.Statistics.LikeCount,
			Comments: v.Statistics.CommentCount,
		}
	}

	videos := make([]models.Video, 0, len(plResp.Items))
	for _, item := range plResp.Items {
		if item.ContentDetails == nil || item.ContentDetails.VideoId == "" {
			continue
		}
		vid := item.ContentDetails.VideoId
		video := models.Video{
			VideoID:    vid,
			URL:        "https://www.youtube.com/watch?v=" + vid,
			Statistics: stats[vid],
		}
		if item.Snippet != nil {
			video.Title = item.Snippet.Title
			video.Description = item.Snippet.Description
			video.PublishedAt = item.Snippet.PublishedAt
		}
		videos = append(videos, video)
	}
	return videos, nil
}
