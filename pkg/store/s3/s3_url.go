package s3

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/tenantfs/pkg/pathutil"
)

// DefaultRegion is used when neither region nor endpoint name one.
const DefaultRegion = "us-east-1"

var (
	awsHost        = regexp.MustCompile(`(^|\.)amazonaws\.com$`)
	awsRegionHost  = regexp.MustCompile(`(?:^|\.)s3[.-]([a-z0-9-]+)\.amazonaws\.com$`)
	virtualHostKey = regexp.MustCompile(`^([a-z0-9][a-z0-9.-]*?)\.s3[.-]`)
)

// Endpoint is a canonical description of where a bucket is reached.
//
// URL never contains the bucket. BucketInHost selects virtual-host style
// ("scheme://bucket.host/key") over path style ("scheme://host/bucket/key").
// Custom is false for the default AWS endpoint, which needs no override in
// the aws client.
type Endpoint struct {
	URL          string
	Bucket       string
	Region       string
	BucketInHost bool
	Custom       bool
}

// NormalizeEndpoint reconciles the three ways deployments configure a
// bucket: as the first path segment of the endpoint, as a subdomain of the
// endpoint host, or only through the bucket setting.
//
// An empty endpoint selects AWS in the given region. An endpoint without a
// scheme is assumed to be https.
func NormalizeEndpoint(endpoint, bucket, region string) Endpoint {
	endpoint = strings.TrimSpace(endpoint)
	bucket = strings.Trim(strings.TrimSpace(bucket), "/")

	if endpoint == "" {
		if region == "" {
			region = DefaultRegion
		}
		return Endpoint{
			URL:          "https://s3." + region + ".amazonaws.com",
			Bucket:       bucket,
			Region:       region,
			BucketInHost: true,
		}
	}

	if !pathutil.IsAbsoluteURL(endpoint) {
		endpoint = "https://" + endpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return Endpoint{URL: strings.TrimRight(endpoint, "/"), Bucket: bucket, Region: region, Custom: true}
	}

	ep := Endpoint{Bucket: bucket, Region: region, Custom: true}
	host := u.Host
	isAWS := awsHost.MatchString(u.Hostname())

	if seg := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)[0]; seg != "" {
		// Path style: the first segment names the bucket.
		if ep.Bucket == "" {
			ep.Bucket = seg
		}
		ep.BucketInHost = false
	} else if ep.Bucket != "" && strings.HasPrefix(host, ep.Bucket+".") {
		host = strings.TrimPrefix(host, ep.Bucket+".")
		ep.BucketInHost = true
	} else if m := virtualHostKey.FindStringSubmatch(host); ep.Bucket == "" && m != nil {
		ep.Bucket = m[1]
		host = strings.TrimPrefix(host, m[1]+".")
		ep.BucketInHost = true
	} else {
		ep.BucketInHost = isAWS
	}

	if ep.Region == "" {
		if m := awsRegionHost.FindStringSubmatch(host); m != nil {
			ep.Region = m[1]
		} else {
			ep.Region = DefaultRegion
		}
	}

	ep.URL = u.Scheme + "://" + host
	return ep
}

// BucketURL returns the base URL under which keys are addressed, ending in
// a slash.
func (e Endpoint) BucketURL() string {
	if e.BucketInHost {
		scheme, host, _ := strings.Cut(e.URL, "://")
		return scheme + "://" + e.Bucket + "." + host + "/"
	}
	return e.URL + "/" + url.PathEscape(e.Bucket) + "/"
}

// PublicFileURL returns the unsigned URL of an object. It is only readable
// by browsers when the bucket policy allows anonymous reads.
func (s *Store) PublicFileURL(rel string) string {
	return s.endpoint.BucketURL() + pathutil.EscapePath(s.key(rel))
}

// PublicURLPrefix is the common prefix of every PublicFileURL of this view.
func (s *Store) PublicURLPrefix() string {
	prefix := strings.TrimSuffix(s.prefix, "/")
	if prefix == "" {
		return s.endpoint.BucketURL()
	}
	return s.endpoint.BucketURL() + pathutil.EscapePath(prefix) + "/"
}

// SignedFileURL returns a pre-signed GET URL valid for expiry, or for the
// configured default when expiry is zero.
func (s *Store) SignedFileURL(ctx context.Context, rel string, expiry time.Duration) (string, error) {
	if s.presigner == nil {
		return "", ErrNoPresigner
	}
	if expiry <= 0 {
		expiry = s.signedExpiry
	}

	key := s.key(rel)
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.endpoint.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign %q: %w", key, err)
	}
	return req.URL, nil
}

// FileURL implements pathutil.DirectLinker.
func (s *Store) FileURL(ctx context.Context, rel string) (string, error) {
	if s.signedLinks {
		return s.SignedFileURL(ctx, rel, 0)
	}
	return s.PublicFileURL(rel), nil
}
