// Package s3 implements a gateway Store on an S3-compatible bucket (AWS S3 or
// MinIO). Revisions are object ETags and writes use conditional PutObject.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/OpenCoralTools/oct-registry/internal/gateway/core"
)

const (
	contentTypeJSON = "application/json"
	proposalsPrefix = "proposals"
)

// Store implements core.Store against a single bucket. Keys are the file
// path, optionally under Prefix.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

// Config holds explicit construction parameters.
type Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string // optional; enables a custom endpoint (e.g. MinIO)
	AccessKeyID     string // optional (falls back to the default credentials chain)
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
	HTTPClient      *http.Client
}

// New creates an S3 store from Config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
	})
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverS3 }

func (s *Store) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

// ReadFile fetches the object and reports its ETag as the revision.
func (s *Store) ReadFile(ctx context.Context, p string) (core.File, error) {
	if _, err := core.CleanPath(p); err != nil {
		return core.File{}, err
	}
	key := s.key(p)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return core.File{}, mapError("get "+p, err)
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return core.File{}, core.Unavailable("read "+p, err)
	}
	return core.File{Path: p, Content: data, Revision: trimETag(out.ETag)}, nil
}

// WriteFile puts the object with If-Match on the revision, or If-None-Match
// when creating.
func (s *Store) WriteFile(ctx context.Context, req core.WriteRequest) (core.WriteResult, error) {
	if _, err := core.CleanPath(req.Path); err != nil {
		return core.WriteResult{}, err
	}
	key := s.key(req.Path)
	input := &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(req.Content),
		ContentType: aws.String(contentTypeJSON),
	}
	if req.Message != "" {
		input.Metadata = map[string]string{"commit-message": req.Message}
	}
	if req.Revision == "" {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String(quoteETag(req.Revision))
	}
	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return core.WriteResult{}, mapError("put "+req.Path, err)
	}
	return core.WriteResult{Revision: trimETag(out.ETag), Content: append([]byte(nil), req.Content...)}, nil
}

type proposalDescriptor struct {
	ID          string    `json:"id"`
	Branch      string    `json:"branch"`
	Path        string    `json:"path"`
	Message     string    `json:"message,omitempty"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProposeChange stores the content and a descriptor under proposals/<id>/.
func (s *Store) ProposeChange(ctx context.Context, p core.Proposal) (core.PullRequest, error) {
	if _, err := core.CleanPath(p.Path); err != nil {
		return core.PullRequest{}, err
	}
	now := s.now()
	desc := proposalDescriptor{
		ID:          uuid.NewString(),
		Branch:      core.BranchName(p.Path, now),
		Path:        p.Path,
		Message:     p.Message,
		Title:       p.Title,
		Description: p.Description,
		CreatedAt:   now,
	}
	base := s.key(path.Join(proposalsPrefix, desc.ID))
	contentKey := path.Join(base, p.Path)
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket, Key: &contentKey, Body: bytes.NewReader(p.Content), ContentType: aws.String(contentTypeJSON),
	}); err != nil {
		return core.PullRequest{}, mapError("propose "+p.Path, err)
	}
	b, err := json.Marshal(desc)
	if err != nil {
		return core.PullRequest{}, err
	}
	descKey := path.Join(base, "proposal.json")
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket, Key: &descKey, Body: bytes.NewReader(b), ContentType: aws.String(contentTypeJSON),
	}); err != nil {
		return core.PullRequest{}, mapError("propose "+p.Path, err)
	}
	return core.PullRequest{ID: desc.ID, Branch: desc.Branch, URL: fmt.Sprintf("s3://%s/%s/", s.bucket, base)}, nil
}

func mapError(op string, err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%s: %w", op, core.ErrNotFound)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%s: %w", op, core.ErrRevisionConflict)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.Unavailable(op, err)
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), "\"")
}

func quoteETag(rev string) string {
	return "\"" + strings.Trim(rev, "\"") + "\""
}
