// Package cloudwatch adapts CloudWatch Logs into the triage pipeline's log
// source contract.
package cloudwatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"clouddoctor/internal/domain"
)

// ErrSourceUnavailable marks a fetch against a log group that does not exist.
var ErrSourceUnavailable = errors.New("log source unavailable")

// ErrSource marks any other transport or auth failure from the log store.
var ErrSource = errors.New("log source error")

// FilterLogEvents accepts limits in [1, 10000].
const maxFetchLimit = 10000

// CredentialSource is satisfied by the credential broker.
type CredentialSource interface {
	Credentials(ctx context.Context) (domain.Credentials, error)
}

type logsAPI interface {
	FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

// Fetcher reads a bounded window of filtered log events from one log group.
// Failures are propagated, never retried here; refresh is the broker's job.
type Fetcher struct {
	logGroup string
	creds    CredentialSource
	now      func() time.Time

	newClient func(domain.Credentials) logsAPI

	// mu guards the cached client; one Fetcher is shared by concurrent runs.
	mu        sync.Mutex
	client    logsAPI
	clientKey string
}

func NewFetcher(logGroup, region string, creds CredentialSource) *Fetcher {
	return &Fetcher{
		logGroup: logGroup,
		creds:    creds,
		now:      time.Now,
		newClient: func(c domain.Credentials) logsAPI {
			return cloudwatchlogs.New(cloudwatchlogs.Options{
				Region:      region,
				Credentials: awscreds.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
			})
		},
	}
}

// Fetch returns normalized records for the window ending now. The keyword
// filter is applied upstream by CloudWatch, not locally.
func (f *Fetcher) Fetch(ctx context.Context, windowMinutes, maxRecords int, keywordFilter string) ([]domain.LogRecord, error) {
	client, err := f.logsClient(ctx)
	if err != nil {
		return nil, err
	}

	end := f.now().UTC()
	start := end.Add(-time.Duration(windowMinutes) * time.Minute)

	limit := maxRecords
	if limit < 1 {
		limit = 1
	}
	if limit > maxFetchLimit {
		limit = maxFetchLimit
	}

	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(f.logGroup),
		StartTime:    aws.Int64(start.UnixMilli()),
		EndTime:      aws.Int64(end.UnixMilli()),
		Limit:        aws.Int32(int32(limit)),
	}
	if keywordFilter != "" {
		input.FilterPattern = aws.String(keywordFilter)
	}

	log.Printf("cloudwatch fetch group=%s window=%dm filter=%q", f.logGroup, windowMinutes, keywordFilter)

	out, err := client.FilterLogEvents(ctx, input)
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: log group %q does not exist", ErrSourceUnavailable, f.logGroup)
		}
		return nil, fmt.Errorf("%w: %w", ErrSource, err)
	}

	records := make([]domain.LogRecord, 0, len(out.Events))
	for _, event := range out.Events {
		stream := aws.ToString(event.LogStreamName)
		if stream == "" {
			stream = "unknown"
		}
		records = append(records, domain.LogRecord{
			Timestamp: time.UnixMilli(aws.ToInt64(event.Timestamp)).UTC().Format(time.RFC3339),
			Message:   strings.TrimSpace(aws.ToString(event.Message)),
			StreamID:  stream,
		})
	}

	log.Printf("cloudwatch fetched events=%d", len(records))
	return records, nil
}

// logsClient rebuilds the CloudWatch client whenever the broker hands back a
// new credential set.
func (f *Fetcher) logsClient(ctx context.Context) (logsAPI, error) {
	creds, err := f.creds.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil || f.clientKey != creds.AccessKeyID {
		f.client = f.newClient(creds)
		f.clientKey = creds.AccessKeyID
	}
	return f.client, nil
}
