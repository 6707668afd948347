package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"voxelwire.io/internal/persistence/s3mirror"
)

// buildMirror returns nil unless VW_S3_MIRROR is set. A nil *Mirror is safe to
// use and does nothing.
func buildMirror(dataDir string, logger *log.Logger) (*s3mirror.Mirror, error) {
	if !envBool("VW_S3_MIRROR", false) {
		return nil, nil
	}
	opts := s3mirror.Options{
		Endpoint:  strings.TrimSpace(os.Getenv("VW_S3_ENDPOINT")),
		Bucket:    strings.TrimSpace(os.Getenv("VW_S3_BUCKET")),
		Region:    strings.TrimSpace(os.Getenv("VW_S3_REGION")),
		AccessKey: strings.TrimSpace(os.Getenv("VW_S3_ACCESS_KEY_ID")),
		SecretKey: strings.TrimSpace(os.Getenv("VW_S3_SECRET_ACCESS_KEY")),
	}
	client, err := s3mirror.New(opts)
	if err != nil {
		return nil, fmt.Errorf("VW_S3_MIRROR=true: %w", err)
	}
	prefix := strings.TrimSpace(os.Getenv("VW_S3_PREFIX"))
	logger.Printf("mirroring snapshots to %s/%s/%s", opts.Endpoint, opts.Bucket, prefix)
	return s3mirror.NewMirror(client, dataDir, prefix, envInt("VW_S3_UPLOAD_WORKERS", 1), 64, logger), nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
