// Package backup periodically archives the BarStore cache directory and
// persisted run artefacts to an S3-compatible bucket, adapted from
// aristath-sentinel's internal/reliability.R2BackupService (which hand-rolls
// its own HTTP S3 client; this port uses the real aws-sdk-go-v2 + S3
// transfer manager since that library is already carried in the parent
// project's go.mod for exactly this concern).
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// archivePrefix names every uploaded object, "<prefix><timestamp>.tar.gz".
const archivePrefix = "backtest-cache-backup-"

// Config configures the S3-compatible backend and the directories backed up.
type Config struct {
	Bucket          string
	Endpoint        string // non-empty for S3-compatible providers (R2, MinIO); empty uses AWS's default resolver
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	CacheDir        string // BarStore cache root (cache/<source>/<symbol>.json and friends)
	ArtifactsDir    string // persisted run artefacts root
}

// Metadata describes one uploaded archive, mirroring BackupMetadata.
type Metadata struct {
	Timestamp time.Time   `json:"timestamp"`
	Entries   []EntryMeta `json:"entries"`
}

// EntryMeta is one archived file's size and checksum.
type EntryMeta struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Info describes one backup object already present in the bucket.
type Info struct {
	Key       string
	Timestamp time.Time
	SizeBytes int64
	AgeHours  int64
}

// Service uploads/lists/rotates cache-and-artefact backups.
type Service struct {
	cfg      Config
	client   *s3.Client
	uploader *manager.Uploader
	log      zerolog.Logger
}

// New constructs a Service from cfg, resolving an aws-sdk-go-v2 config
// with static credentials and (when cfg.Endpoint is set) a custom
// endpoint resolver for S3-compatible providers.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Service, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("backup: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Service{
		cfg:      cfg,
		client:   client,
		uploader: manager.NewUploader(client),
		log:      log.With().Str("component", "backup").Logger(),
	}, nil
}

// CreateAndUpload archives CacheDir and ArtifactsDir into a single
// tar.gz, uploads it to Bucket, and returns the uploaded key.
func (s *Service) CreateAndUpload(ctx context.Context) (string, error) {
	start := time.Now()
	stagingDir, err := os.MkdirTemp("", "backtest-backup-*")
	if err != nil {
		return "", fmt.Errorf("backup: create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	timestamp := time.Now().UTC()
	archiveName := archivePrefix + timestamp.Format("2006-01-02-150405") + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)

	meta, err := s.archive(stagingDir, archivePath, timestamp)
	if err != nil {
		return "", fmt.Errorf("backup: create archive: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("backup: open archive: %w", err)
	}
	defer f.Close()

	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(archiveName),
		Body:   f,
	}); err != nil {
		return "", fmt.Errorf("backup: upload archive: %w", err)
	}

	s.log.Info().
		Dur("duration", time.Since(start)).
		Str("archive", archiveName).
		Int("entries", len(meta.Entries)).
		Msg("cache backup uploaded")
	return archiveName, nil
}

// archive walks CacheDir and ArtifactsDir into a gzip-compressed tar at
// destPath, writing a metadata.json entry alongside the archived files so
// restore tooling can inspect contents without extracting the whole thing
// first (List itself reads only object keys, not metadata.json).
func (s *Service) archive(stagingDir, destPath string, timestamp time.Time) (Metadata, error) {
	meta := Metadata{Timestamp: timestamp}

	out, err := os.Create(destPath)
	if err != nil {
		return meta, err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, root := range []string{s.cfg.CacheDir, s.cfg.ArtifactsDir} {
		if root == "" {
			continue
		}
		if err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(filepath.Dir(root), path)
			if err != nil {
				return err
			}
			checksum, err := checksumFile(path)
			if err != nil {
				return err
			}
			meta.Entries = append(meta.Entries, EntryMeta{Path: rel, SizeBytes: info.Size(), Checksum: checksum})
			return addToTar(tw, path, rel, info)
		}); err != nil {
			return meta, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	metaPath := filepath.Join(stagingDir, "metadata.json")
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return meta, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaBytes, 0o644); err != nil {
		return meta, fmt.Errorf("write metadata.json: %w", err)
	}
	metaInfo, err := os.Stat(metaPath)
	if err != nil {
		return meta, err
	}
	if err := addToTar(tw, metaPath, "metadata.json", metaInfo); err != nil {
		return meta, fmt.Errorf("add metadata.json to archive: %w", err)
	}
	return meta, nil
}

func addToTar(tw *tar.Writer, path, rel string, info os.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = rel
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// List returns every backup archive in the bucket, newest first.
func (s *Service) List(ctx context.Context) ([]Info, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(archivePrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("backup: list objects: %w", err)
	}

	now := time.Now()
	infos := make([]Info, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		ts, ok := parseArchiveTimestamp(*obj.Key)
		if !ok {
			continue
		}
		size := int64(0)
		if obj.Size != nil {
			size = *obj.Size
		}
		infos = append(infos, Info{
			Key: *obj.Key, Timestamp: ts, SizeBytes: size,
			AgeHours: int64(now.Sub(ts).Hours()),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Timestamp.After(infos[j].Timestamp) })
	return infos, nil
}

func parseArchiveTimestamp(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, archivePrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, archivePrefix), ".tar.gz")
	ts, err := time.Parse("2006-01-02-150405", raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Rotate deletes backups older than retentionDays, always keeping at
// least minKeep of the newest archives regardless of age, matching
// R2BackupService.RotateOldBackups.
func (s *Service) Rotate(ctx context.Context, retentionDays, minKeep int) error {
	infos, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("backup: rotate: %w", err)
	}
	if len(infos) <= minKeep {
		s.log.Info().Int("count", len(infos)).Msg("too few backups to rotate")
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for i, info := range infos {
		if i < minKeep {
			continue
		}
		if retentionDays <= 0 || !info.Timestamp.Before(cutoff) {
			continue
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket), Key: aws.String(info.Key),
		}); err != nil {
			s.log.Error().Err(err).Str("key", info.Key).Msg("failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", info.Key).Msg("rotated old backup")
	}
	return nil
}
