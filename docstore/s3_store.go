package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds the connection parameters for an S3-compatible backend.
type S3Config struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl" yaml:"use_ssl"`
	Region          string `json:"region" yaml:"region"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	KeyPrefix       string `json:"key_prefix" yaml:"key_prefix"`
}

// S3Store implements Store on an S3-compatible object store via MinIO.
//
// Object layout:
//
//	bucket/
//	└── [keyPrefix/]
//	    ├── users/alice.json
//	    ├── friends/f1.json
//	    └── chats/c1/messages/m1.json
//
// S3 offers no change feed, so Subscribe returns ErrSubscribeUnsupported;
// callers needing realtime updates use a backend with one.
type S3Store struct {
	client    *minio.Client
	bucket    string
	keyPrefix string
}

// NewS3Store connects to the configured endpoint and verifies the bucket
// exists.
func NewS3Store(ctx context.Context, config S3Config) (*S3Store, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", config.Bucket)
	}

	return &S3Store{
		client:    client,
		bucket:    config.Bucket,
		keyPrefix: strings.Trim(config.KeyPrefix, "/"),
	}, nil
}

// NewS3StoreFromConfig builds an S3Store from the generic backend config map.
func NewS3StoreFromConfig(raw map[string]interface{}) (*S3Store, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}
	var config S3Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}
	return NewS3Store(context.Background(), config)
}

func (s *S3Store) objectKey(docPath string) (string, error) {
	segments, err := splitPath(docPath)
	if err != nil {
		return "", err
	}
	key := path.Join(segments...) + ".json"
	if s.keyPrefix != "" {
		key = s.keyPrefix + "/" + key
	}
	return key, nil
}

func (s *S3Store) Get(ctx context.Context, docPath string) (Record, error) {
	key, err := s.objectKey(docPath)
	if err != nil {
		return nil, err
	}

	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt document %s: %w", docPath, err)
	}
	return record, nil
}

func (s *S3Store) Set(ctx context.Context, docPath string, record Record, merge bool) error {
	if merge {
		existing, err := s.Get(ctx, docPath)
		if err == nil {
			record = mergeRecords(existing, record)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return s.put(ctx, docPath, record)
}

func (s *S3Store) Update(ctx context.Context, docPath string, partial Record) error {
	existing, err := s.Get(ctx, docPath)
	if err != nil {
		return err
	}
	return s.put(ctx, docPath, mergeRecords(existing, partial))
}

func (s *S3Store) put(ctx context.Context, docPath string, record Record) error {
	key, err := s.objectKey(docPath)
	if err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("serialize document: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, docPath string) error {
	key, err := s.objectKey(docPath)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *S3Store) Query(ctx context.Context, collection string, wheres ...Where) ([]Record, error) {
	segments, err := splitCollection(collection)
	if err != nil {
		return nil, err
	}
	prefix := path.Join(segments...) + "/"
	if s.keyPrefix != "" {
		prefix = s.keyPrefix + "/" + prefix
	}

	var results []Record
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects: %w", object.Err)
		}
		// Skip members of nested subcollections.
		rest := strings.TrimPrefix(object.Key, prefix)
		if strings.Contains(rest, "/") || !strings.HasSuffix(rest, ".json") {
			continue
		}

		obj, err := s.client.GetObject(ctx, s.bucket, object.Key, minio.GetObjectOptions{})
		if err != nil {
			continue
		}
		data, err := io.ReadAll(obj)
		obj.Close()
		if err != nil {
			continue
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		if matches(record, wheres) {
			results = append(results, record)
		}
	}
	return results, nil
}

func (s *S3Store) Subscribe(context.Context, string, ...Where) (<-chan Snapshot, error) {
	return nil, ErrSubscribeUnsupported
}

func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func (s *S3Store) Close() error { return nil }

func (s *S3Store) Type() string { return string(TypeS3) }
