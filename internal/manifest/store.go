// Package manifest stores job manifests in S3-compatible object storage and
// computes the content hashes jobs are pinned to.
package manifest

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/crypto/sha3"

	"github.com/arkline/escrowd/internal/model"
)

// Store persists manifests as JSON objects in a single bucket. Keys are job
// IDs, so every job maps to exactly one manifest object.
type Store struct {
	client   *s3.Client
	endpoint string
	bucket   string
}

func NewStore(endpoint, accessKey, secretKey, bucket string) *Store {
	client := s3.New(s3.Options{
		BaseEndpoint: aws.String(endpoint),
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		UsePathStyle: true,
	})
	return &Store{client: client, endpoint: endpoint, bucket: bucket}
}

// Upload writes the manifest under the job's key and returns its public URL
// together with the Keccak-256 hash of the stored bytes.
func (s *Store) Upload(ctx context.Context, jobID string, m *model.Manifest) (url, hash string, err error) {
	body, err := json.Marshal(m)
	if err != nil {
		return "", "", fmt.Errorf("marshal manifest: %w", err)
	}

	key := objectKey(jobID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", "", fmt.Errorf("upload manifest for job %s: %w", jobID, err)
	}

	return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key), Hash(body), nil
}

// Download fetches a manifest back by job ID and verifies it against the
// expected hash. An empty expectedHash skips verification.
func (s *Store) Download(ctx context.Context, jobID, expectedHash string) (*model.Manifest, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(jobID)),
	})
	if err != nil {
		return nil, fmt.Errorf("download manifest for job %s: %w", jobID, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read manifest for job %s: %w", jobID, err)
	}

	if expectedHash != "" && Hash(body) != expectedHash {
		return nil, fmt.Errorf("manifest for job %s does not match recorded hash", jobID)
	}

	var m model.Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode manifest for job %s: %w", jobID, err)
	}
	return &m, nil
}

// Hash returns the hex-encoded Keccak-256 digest of data.
func Hash(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func objectKey(jobID string) string {
	return "manifests/" + jobID + ".json"
}
