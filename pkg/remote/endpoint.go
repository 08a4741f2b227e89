package remote

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Endpoint describes where a bucket's objects are reached.
type Endpoint struct {
	// Host is the endpoint hostname, e.g. "s3.us-west-2.amazonaws.com" or a
	// self-hosted "minio.internal:9000".
	Host string
	// Bucket is the target bucket name.
	Bucket string
	// VirtualHosted forces virtual-hosted addressing regardless of the
	// heuristic below. Leave unset to let ResolveStyle decide.
	VirtualHosted *bool
}

// ResolveStyle decides whether e should be addressed virtual-hosted
// (host = "<bucket>.<endpoint-host>", path = "/<key>") or path-style
// (host = "<endpoint-host>", path = "/<bucket>/<key>"). If the configured
// endpoint already contains the bucket as a host-prefix, it is treated as
// virtual-hosted with no further synthesis. Otherwise virtual-hosted
// addressing is only synthesized for a host recognizably belonging to AWS
// S3 itself (isAmazonS3Host); any other host — a self-hosted
// "minio.internal:9000", for instance, where the bucket name is not a
// valid label to prefix onto a host:port — defaults to path-style.
func (e Endpoint) ResolveStyle() (requestHost, pathPrefix string) {
	if e.VirtualHosted != nil {
		if *e.VirtualHosted {
			return e.Bucket + "." + e.Host, ""
		}
		return e.Host, "/" + e.Bucket
	}
	if strings.HasPrefix(e.Host, e.Bucket+".") {
		return e.Host, ""
	}
	if isAmazonS3Host(e.Host) {
		return e.Bucket + "." + e.Host, ""
	}
	return e.Host, "/" + e.Bucket
}

// isAmazonS3Host reports whether host matches one of the recognized AWS S3
// hostname shapes, "s3.<region>.amazonaws.com" or
// "<region>.s3.amazonaws.com": some hostname label "s3" is followed by
// "amazonaws" either directly or after one region label.
func isAmazonS3Host(host string) bool {
	hostname, _, ok := strings.Cut(host, ":")
	if !ok {
		hostname = host
	}
	parts := strings.Split(hostname, ".")
	for i, p := range parts {
		if p != "s3" {
			continue
		}
		if i+1 < len(parts) && parts[i+1] == "amazonaws" {
			return true
		}
		if i+2 < len(parts) && parts[i+2] == "amazonaws" {
			return true
		}
	}
	return false
}

// ObjectKey renders the store-relative path (as found under "bin/") into an
// S3 object key with the given archive suffix.
func ObjectKey(relPath, suffix string) string {
	return strings.TrimPrefix(relPath, "/") + suffix
}

// Config bundles everything LoadConfigFromEnv reads once, so a caller
// builds exactly one immutable Transport from it at start-up rather than
// threading bare os.Getenv calls through the program.
type Config struct {
	Endpoint    Endpoint
	Credentials Credentials
	Debug       DebugOptions
}

// LoadConfigFromEnv reads S3_ENDPOINT, S3_BUCKET, S3_ACCESS_KEY,
// S3_SECRET_KEY and RUGBY_DEBUG_S3. S3_ENDPOINT and S3_BUCKET are
// required; the access keys may be empty for anonymous/public buckets.
func LoadConfigFromEnv() (Config, error) {
	host := os.Getenv("S3_ENDPOINT")
	bucket := os.Getenv("S3_BUCKET")
	if host == "" || bucket == "" {
		return Config{}, errors.New("S3_ENDPOINT and S3_BUCKET must both be set")
	}
	return Config{
		Endpoint: Endpoint{Host: host, Bucket: bucket},
		Credentials: Credentials{
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY"),
			SecretAccessKey: os.Getenv("S3_SECRET_KEY"),
		},
		Debug: DebugOptions{TraceSigning: os.Getenv("RUGBY_DEBUG_S3") != ""},
	}, nil
}
