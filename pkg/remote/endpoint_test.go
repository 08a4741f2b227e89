package remote

import "testing"

func TestResolveStyleVirtualHostedOverride(t *testing.T) {
	v := true
	e := Endpoint{Host: "minio.internal:9000", Bucket: "rugby-cache", VirtualHosted: &v}
	host, prefix := e.ResolveStyle()
	if host != "rugby-cache.minio.internal:9000" || prefix != "" {
		t.Errorf("ResolveStyle() = %q, %q", host, prefix)
	}
}

func TestResolveStylePathOverride(t *testing.T) {
	v := false
	e := Endpoint{Host: "minio.internal:9000", Bucket: "rugby-cache", VirtualHosted: &v}
	host, prefix := e.ResolveStyle()
	if host != "minio.internal:9000" || prefix != "/rugby-cache" {
		t.Errorf("ResolveStyle() = %q, %q", host, prefix)
	}
}

func TestResolveStyleDetectsExistingBucketPrefix(t *testing.T) {
	e := Endpoint{Host: "rugby-cache.s3.us-west-2.amazonaws.com", Bucket: "rugby-cache"}
	host, prefix := e.ResolveStyle()
	if host != "rugby-cache.s3.us-west-2.amazonaws.com" || prefix != "" {
		t.Errorf("ResolveStyle() = %q, %q", host, prefix)
	}
}

func TestResolveStyleSynthesizesVirtualHostedForAmazonS3(t *testing.T) {
	cases := []string{"s3.us-west-2.amazonaws.com", "us-west-2.s3.amazonaws.com"}
	for _, host := range cases {
		e := Endpoint{Host: host, Bucket: "rugby-cache"}
		gotHost, prefix := e.ResolveStyle()
		if gotHost != "rugby-cache."+host || prefix != "" {
			t.Errorf("ResolveStyle() for %q = %q, %q", host, gotHost, prefix)
		}
	}
}

func TestResolveStyleDefaultsToPathStyleForSelfHostedEndpoint(t *testing.T) {
	e := Endpoint{Host: "minio.internal:9000", Bucket: "rugby-cache"}
	host, prefix := e.ResolveStyle()
	if host != "minio.internal:9000" || prefix != "/rugby-cache" {
		t.Errorf("ResolveStyle() = %q, %q, want path-style for a non-S3 host", host, prefix)
	}
}

func TestObjectKeyAppendsSuffix(t *testing.T) {
	if got := ObjectKey("/bin/Common/Debug-sim-arm64/abcd1234", ".zip"); got != "bin/Common/Debug-sim-arm64/abcd1234.zip" {
		t.Errorf("ObjectKey() = %q", got)
	}
}

func TestLoadConfigFromEnvRequiresEndpointAndBucket(t *testing.T) {
	t.Setenv("S3_ENDPOINT", "")
	t.Setenv("S3_BUCKET", "")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Error("expected LoadConfigFromEnv() to fail with no endpoint/bucket set")
	}

	t.Setenv("S3_ENDPOINT", "s3.us-west-2.amazonaws.com")
	t.Setenv("S3_BUCKET", "rugby-cache")
	t.Setenv("S3_ACCESS_KEY", "AKID")
	t.Setenv("S3_SECRET_KEY", "secret")
	t.Setenv("RUGBY_DEBUG_S3", "1")
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() = %v", err)
	}
	if cfg.Endpoint.Host != "s3.us-west-2.amazonaws.com" || cfg.Endpoint.Bucket != "rugby-cache" {
		t.Errorf("unexpected endpoint: %+v", cfg.Endpoint)
	}
	if cfg.Credentials.AccessKeyID != "AKID" || !cfg.Debug.TraceSigning {
		t.Errorf("unexpected credentials/debug: %+v %+v", cfg.Credentials, cfg.Debug)
	}
}
