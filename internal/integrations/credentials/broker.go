// Package credentials exchanges the local GCP identity for short-lived AWS
// credentials via STS web-identity federation. No long-lived AWS secret is
// ever held.
package credentials

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"clouddoctor/internal/domain"
)

const metadataTokenURL = "http://metadata.google.internal/computeMetadata/v1/instance/service-accounts/default/identity?audience=accounts.google.com"

const tokenFetchTimeout = 5 * time.Second

// sessionDuration is the fixed validity requested from STS.
const sessionDuration = 3600

// refreshMargin forces a refresh before the cached credentials actually
// expire, so a fetch never runs on the edge of expiry.
const refreshMargin = 5 * time.Minute

// CredentialError wraps token-acquisition and federation failures. Both fail
// the whole broker call; stale credentials are never returned past expiry.
type CredentialError struct {
	Op  string
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential %s failed: %v", e.Op, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// TokenSource supplies a web-identity token for the federation call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// MetadataTokenSource fetches an OIDC identity token from the GCP metadata
// server. Only available when running on GCP compute.
type MetadataTokenSource struct {
	URL    string
	client *http.Client
}

func NewMetadataTokenSource() *MetadataTokenSource {
	return &MetadataTokenSource{
		URL:    metadataTokenURL,
		client: &http.Client{Timeout: tokenFetchTimeout},
	}
}

func (s *MetadataTokenSource) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("metadata server request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading metadata response: %w", err)
	}
	return string(body), nil
}

// stsAPI is the one STS operation the broker needs, extracted so tests can
// record federation calls.
type stsAPI interface {
	AssumeRoleWithWebIdentity(ctx context.Context, params *sts.AssumeRoleWithWebIdentityInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithWebIdentityOutput, error)
}

// Broker caches one set of temporary credentials per instance and refreshes
// them once the expiry is within the safety margin. The cache is
// instance-scoped, not process-global.
type Broker struct {
	roleARN     string
	sessionName string
	tokens      TokenSource
	sts         stsAPI
	now         func() time.Time

	mu     sync.Mutex
	cached domain.Credentials
	valid  bool
}

func NewBroker(roleARN, region, sessionName string) *Broker {
	return &Broker{
		roleARN:     roleARN,
		sessionName: sessionName,
		tokens:      NewMetadataTokenSource(),
		// AssumeRoleWithWebIdentity is an unsigned call.
		sts: sts.New(sts.Options{Region: region, Credentials: aws.AnonymousCredentials{}}),
		now: time.Now,
	}
}

// Credentials returns cached credentials when they have more than the safety
// margin remaining, otherwise runs the full token-exchange protocol again.
func (b *Broker) Credentials(ctx context.Context) (domain.Credentials, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.valid && b.cached.ExpiresAt.Sub(b.now()) > refreshMargin {
		return b.cached, nil
	}

	token, err := b.tokens.Token(ctx)
	if err != nil {
		return domain.Credentials{}, &CredentialError{Op: "token acquisition", Err: err}
	}

	out, err := b.sts.AssumeRoleWithWebIdentity(ctx, &sts.AssumeRoleWithWebIdentityInput{
		RoleArn:          aws.String(b.roleARN),
		RoleSessionName:  aws.String(b.sessionName),
		WebIdentityToken: aws.String(token),
		DurationSeconds:  aws.Int32(sessionDuration),
	})
	if err != nil {
		return domain.Credentials{}, &CredentialError{Op: "federation", Err: err}
	}
	if out.Credentials == nil {
		return domain.Credentials{}, &CredentialError{Op: "federation", Err: fmt.Errorf("empty credentials in STS response")}
	}

	b.cached = domain.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		ExpiresAt:       aws.ToTime(out.Credentials.Expiration),
	}
	b.valid = true
	return b.cached, nil
}
