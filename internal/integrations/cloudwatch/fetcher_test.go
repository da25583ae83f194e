package cloudwatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"clouddoctor/internal/domain"
)

type fakeCreds struct {
	creds domain.Credentials
	err   error
	calls int
}

func (f *fakeCreds) Credentials(ctx context.Context) (domain.Credentials, error) {
	f.calls++
	return f.creds, f.err
}

type fakeLogs struct {
	calls     int
	lastInput *cloudwatchlogs.FilterLogEventsInput
	events    []types.FilteredLogEvent
	err       error
}

func (f *fakeLogs) FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error) {
	f.calls++
	f.lastInput = params
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatchlogs.FilterLogEventsOutput{Events: f.events}, nil
}

func testFetcher(creds CredentialSource, logs *fakeLogs) *Fetcher {
	return &Fetcher{
		logGroup:  "/ecs/patient-zone",
		creds:     creds,
		now:       func() time.Time { return time.Date(2024, 1, 10, 10, 30, 0, 0, time.UTC) },
		newClient: func(domain.Credentials) logsAPI { return logs },
	}
}

func validCreds() *fakeCreds {
	return &fakeCreds{creds: domain.Credentials{AccessKeyID: "AKIA1", SecretAccessKey: "s", SessionToken: "t", ExpiresAt: time.Now().Add(time.Hour)}}
}

func TestFetchNormalizesRecords(t *testing.T) {
	logs := &fakeLogs{events: []types.FilteredLogEvent{
		{
			Timestamp:     aws.Int64(time.Date(2024, 1, 10, 10, 15, 0, 0, time.UTC).UnixMilli()),
			Message:       aws.String("  [ERROR] pool exhausted \n"),
			LogStreamName: aws.String("ecs/app/abc123"),
		},
		{
			Timestamp: aws.Int64(time.Date(2024, 1, 10, 10, 16, 0, 0, time.UTC).UnixMilli()),
			Message:   aws.String("[FATAL] oom"),
		},
	}}
	f := testFetcher(validCreds(), logs)

	records, err := f.Fetch(context.Background(), 30, 100, "?ERROR")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Timestamp != "2024-01-10T10:15:00Z" {
		t.Fatalf("expected RFC3339 timestamp, got %q", records[0].Timestamp)
	}
	if records[0].Message != "[ERROR] pool exhausted" {
		t.Fatalf("expected trimmed message, got %q", records[0].Message)
	}
	if records[1].StreamID != "unknown" {
		t.Fatalf("expected missing stream to default to unknown, got %q", records[1].StreamID)
	}
}

func TestFetchBuildsWindowAndFilter(t *testing.T) {
	logs := &fakeLogs{}
	f := testFetcher(validCreds(), logs)

	if _, err := f.Fetch(context.Background(), 45, 100, "?ERROR ?FATAL"); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	in := logs.lastInput
	if aws.ToString(in.LogGroupName) != "/ecs/patient-zone" {
		t.Fatalf("unexpected log group: %q", aws.ToString(in.LogGroupName))
	}
	end := time.Date(2024, 1, 10, 10, 30, 0, 0, time.UTC)
	if aws.ToInt64(in.EndTime) != end.UnixMilli() {
		t.Fatalf("unexpected end time: %d", aws.ToInt64(in.EndTime))
	}
	if aws.ToInt64(in.StartTime) != end.Add(-45*time.Minute).UnixMilli() {
		t.Fatalf("unexpected start time: %d", aws.ToInt64(in.StartTime))
	}
	if aws.ToInt32(in.Limit) != 100 {
		t.Fatalf("unexpected limit: %d", aws.ToInt32(in.Limit))
	}
	if aws.ToString(in.FilterPattern) != "?ERROR ?FATAL" {
		t.Fatalf("unexpected filter pattern: %q", aws.ToString(in.FilterPattern))
	}
}

func TestFetchOmitsEmptyFilter(t *testing.T) {
	logs := &fakeLogs{}
	f := testFetcher(validCreds(), logs)

	if _, err := f.Fetch(context.Background(), 30, 50, ""); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if logs.lastInput.FilterPattern != nil {
		t.Fatalf("expected no filter pattern, got %q", aws.ToString(logs.lastInput.FilterPattern))
	}
}

func TestFetchMissingLogGroup(t *testing.T) {
	logs := &fakeLogs{err: &types.ResourceNotFoundException{Message: aws.String("The specified log group does not exist.")}}
	f := testFetcher(validCreds(), logs)

	_, err := f.Fetch(context.Background(), 30, 100, "")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestFetchTransportError(t *testing.T) {
	logs := &fakeLogs{err: fmt.Errorf("connection reset")}
	f := testFetcher(validCreds(), logs)

	_, err := f.Fetch(context.Background(), 30, 100, "")
	if !errors.Is(err, ErrSource) {
		t.Fatalf("expected ErrSource wrap, got %v", err)
	}
}

func TestFetchCredentialErrorPropagates(t *testing.T) {
	wantErr := fmt.Errorf("credential token acquisition failed")
	logs := &fakeLogs{}
	f := testFetcher(&fakeCreds{err: wantErr}, logs)

	_, err := f.Fetch(context.Background(), 30, 100, "")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected credential error propagated, got %v", err)
	}
	if logs.calls != 0 {
		t.Fatalf("expected no logs call without credentials, got %d", logs.calls)
	}
}

func TestFetchClampsLimit(t *testing.T) {
	cases := []struct {
		maxRecords int
		want       int32
	}{
		{0, 1},
		{-5, 1},
		{100, 100},
		{10000, 10000},
		{1 << 31, 10000},
	}
	for _, tc := range cases {
		logs := &fakeLogs{}
		f := testFetcher(validCreds(), logs)
		if _, err := f.Fetch(context.Background(), 30, tc.maxRecords, ""); err != nil {
			t.Fatalf("Fetch(%d) failed: %v", tc.maxRecords, err)
		}
		if got := aws.ToInt32(logs.lastInput.Limit); got != tc.want {
			t.Fatalf("maxRecords %d: expected limit %d, got %d", tc.maxRecords, tc.want, got)
		}
	}
}

// rotatingCreds hands out a different access key on every call, forcing a
// client rebuild each time.
type rotatingCreds struct {
	n atomic.Int64
}

func (r *rotatingCreds) Credentials(ctx context.Context) (domain.Credentials, error) {
	return domain.Credentials{
		AccessKeyID:     fmt.Sprintf("AKIA%d", r.n.Add(1)),
		SecretAccessKey: "s",
		SessionToken:    "t",
		ExpiresAt:       time.Now().Add(time.Hour),
	}, nil
}

type countingLogs struct {
	calls atomic.Int64
}

func (c *countingLogs) FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error) {
	c.calls.Add(1)
	return &cloudwatchlogs.FilterLogEventsOutput{}, nil
}

func TestFetchConcurrentRuns(t *testing.T) {
	logs := &countingLogs{}
	f := testFetcher(&rotatingCreds{}, nil)
	f.newClient = func(domain.Credentials) logsAPI { return logs }

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Fetch(context.Background(), 30, 100, "?ERROR"); err != nil {
				t.Errorf("concurrent Fetch failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if logs.calls.Load() != 16 {
		t.Fatalf("expected 16 fetches, got %d", logs.calls.Load())
	}
}

func TestFetchRebuildsClientOnKeyRotation(t *testing.T) {
	logs := &fakeLogs{}
	creds := validCreds()
	rebuilds := 0
	f := testFetcher(creds, logs)
	f.newClient = func(domain.Credentials) logsAPI {
		rebuilds++
		return logs
	}

	if _, err := f.Fetch(context.Background(), 30, 100, ""); err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if _, err := f.Fetch(context.Background(), 30, 100, ""); err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if rebuilds != 1 {
		t.Fatalf("expected client reused for same key, got %d builds", rebuilds)
	}

	creds.creds.AccessKeyID = "AKIA2"
	if _, err := f.Fetch(context.Background(), 30, 100, ""); err != nil {
		t.Fatalf("third fetch failed: %v", err)
	}
	if rebuilds != 2 {
		t.Fatalf("expected rebuild on key rotation, got %d builds", rebuilds)
	}
}
