package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		bucket   string
		region   string
		want     Endpoint
		url      string
	}{
		{
			name:   "DefaultAWS",
			bucket: "b", region: "r",
			want: Endpoint{URL: "https://s3.r.amazonaws.com", Bucket: "b", Region: "r", BucketInHost: true},
			url:  "https://b.s3.r.amazonaws.com/",
		},
		{
			name:   "DefaultRegion",
			bucket: "b",
			want:   Endpoint{URL: "https://s3.us-east-1.amazonaws.com", Bucket: "b", Region: "us-east-1", BucketInHost: true},
			url:    "https://b.s3.us-east-1.amazonaws.com/",
		},
		{
			name:     "CustomHostPathStyle",
			endpoint: "http://minio:9000", bucket: "files",
			want: Endpoint{URL: "http://minio:9000", Bucket: "files", Region: "us-east-1", Custom: true},
			url:  "http://minio:9000/files/",
		},
		{
			name:     "NoScheme",
			endpoint: "storage.example.com", bucket: "files", region: "eu",
			want: Endpoint{URL: "https://storage.example.com", Bucket: "files", Region: "eu", Custom: true},
			url:  "https://storage.example.com/files/",
		},
		{
			name:     "BucketAsPathSegment",
			endpoint: "https://storage.example.com/files/", region: "eu",
			want: Endpoint{URL: "https://storage.example.com", Bucket: "files", Region: "eu", Custom: true},
			url:  "https://storage.example.com/files/",
		},
		{
			name:     "BucketAsSubdomain",
			endpoint: "https://files.storage.example.com", bucket: "files", region: "eu",
			want: Endpoint{URL: "https://storage.example.com", Bucket: "files", Region: "eu", BucketInHost: true, Custom: true},
			url:  "https://files.storage.example.com/",
		},
		{
			name:     "AWSVirtualHostInferred",
			endpoint: "https://mybucket.s3.eu-west-1.amazonaws.com",
			want:     Endpoint{URL: "https://s3.eu-west-1.amazonaws.com", Bucket: "mybucket", Region: "eu-west-1", BucketInHost: true, Custom: true},
			url:      "https://mybucket.s3.eu-west-1.amazonaws.com/",
		},
		{
			name:     "AWSRegionalEndpoint",
			endpoint: "s3.eu-central-1.amazonaws.com", bucket: "b",
			want: Endpoint{URL: "https://s3.eu-central-1.amazonaws.com", Bucket: "b", Region: "eu-central-1", BucketInHost: true, Custom: true},
			url:  "https://b.s3.eu-central-1.amazonaws.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeEndpoint(tt.endpoint, tt.bucket, tt.region)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.url, got.BucketURL())
		})
	}
}

func TestNormalizeEndpoint_SameBucketBothConventions(t *testing.T) {
	pathStyle := NormalizeEndpoint("https://storage.example.com/files", "", "eu")
	hostStyle := NormalizeEndpoint("https://files.storage.example.com", "files", "eu")

	assert.Equal(t, pathStyle.Bucket, hostStyle.Bucket)
	assert.Equal(t, pathStyle.URL, hostStyle.URL)
	assert.NotEqual(t, pathStyle.BucketInHost, hostStyle.BucketInHost)
}

func TestMetadataEncoding(t *testing.T) {
	t.Run("OmitsUnset", func(t *testing.T) {
		assert.Empty(t, Metadata{}.Encode())
		assert.Equal(t, map[string]string{MetaUserID: "0"}, Metadata{UserID: IntPtr(0)}.Encode())
	})

	t.Run("Decode", func(t *testing.T) {
		md := DecodeMetadata(map[string]string{
			"Min-Role-Read": "40",
			"user-id":       "not-a-number",
			"filename":      "my%20r%C3%A9sum%C3%A9.pdf",
			"mime-super":    "application",
			"mime-sub":      "pdf",
		})
		assert.Equal(t, IntPtr(40), md.MinRoleRead)
		assert.Nil(t, md.UserID)
		assert.Equal(t, "my résumé.pdf", md.Filename)
		assert.Equal(t, "application/pdf", md.Mimetype())
	})

	t.Run("FilenameSurvives", func(t *testing.T) {
		in := Metadata{Filename: "report (final) #2.pdf"}
		assert.Equal(t, in, DecodeMetadata(in.Encode()))
	})
}
