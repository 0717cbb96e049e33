package s3

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/tenantfs/internal/logger"
)

// ObjectInfo describes one object. Key is tenant-relative.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	Metadata     Metadata
}

// Listing is the result of ListFolder. Directories are tenant-relative paths
// without a trailing slash, sorted.
type Listing struct {
	Files       []ObjectInfo
	Directories []string
}

// ListFolder lists the content of a tenant-relative folder.
//
// Non-recursive listings use "/" as delimiter so the backend groups deeper
// keys into common prefixes, which become Directories. Recursive listings
// walk every key under the folder and derive Directories from the key paths.
// Placeholder objects are never reported as files.
//
// Listed files carry no Metadata; use HeadObject for that.
func (s *Store) ListFolder(ctx context.Context, folder string, recursive bool) (listing Listing, err error) {
	if err := ctx.Err(); err != nil {
		return Listing{}, err
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("ListObjects", time.Since(start), err)
	}()

	prefix := s.folderPrefix(folder)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.endpoint.Bucket),
		Prefix: aws.String(prefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	dirs := make(map[string]struct{})
	paginator := s3.NewListObjectsV2Paginator(s.client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return Listing{}, fmt.Errorf("failed to list objects under %q: %w", prefix, err)
		}

		for _, cp := range page.CommonPrefixes {
			rel := strings.TrimSuffix(s.relative(aws.ToString(cp.Prefix)), "/")
			if rel != "" {
				dirs[rel] = struct{}{}
			}
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}

			if recursive {
				inner := strings.TrimPrefix(key, prefix)
				parts := strings.Split(strings.TrimSuffix(inner, "/"), "/")
				for i := 1; i < len(parts); i++ {
					dirs[s.relative(prefix+strings.Join(parts[:i], "/"))] = struct{}{}
				}
			}

			// Folder markers written by some consoles end in "/".
			if strings.HasSuffix(key, "/") {
				dirs[strings.TrimSuffix(s.relative(key), "/")] = struct{}{}
				continue
			}
			if isPlaceholder(key) {
				continue
			}

			listing.Files = append(listing.Files, ObjectInfo{
				Key:          s.relative(key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	for d := range dirs {
		listing.Directories = append(listing.Directories, d)
	}
	sort.Strings(listing.Directories)

	logger.Debug("S3 list %s (recursive=%v): %d files, %d directories",
		prefix, recursive, len(listing.Files), len(listing.Directories))

	return listing, nil
}

// keysUnder returns every raw key below a folder, placeholders included.
func (s *Store) keysUnder(ctx context.Context, folder string) ([]string, error) {
	prefix := s.folderPrefix(folder)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.endpoint.Bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// FolderExists reports whether any object lives under folder.
func (s *Store) FolderExists(ctx context.Context, folder string) (bool, error) {
	prefix := s.folderPrefix(folder)
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.endpoint.Bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list objects under %q: %w", prefix, err)
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

// AllDirectories returns every directory of the tenant, sorted.
func (s *Store) AllDirectories(ctx context.Context) ([]string, error) {
	listing, err := s.ListFolder(ctx, "", true)
	if err != nil {
		return nil, err
	}
	return listing.Directories, nil
}

// Parent returns the tenant-relative parent folder of rel ("" for the root).
func Parent(rel string) string {
	dir := path.Dir(rel)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}
