package remote

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Credentials are the S3-compatible access key pair used to sign requests.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

const (
	algorithm = "AWS4-HMAC-SHA256"
	service   = "s3"
)

// SignRequest signs req in place with AWS Signature Version 4, using
// payloadSHA256 (hex-encoded) as the body hash. The caller computes the
// payload hash itself, since for streamed uploads it may be cheaper to hash
// incrementally than to buffer the whole body here.
func SignRequest(req *http.Request, creds Credentials, region, payloadSHA256 string, now time.Time) {
	amzDate := now.UTC().Format("20060102T150405Z")
	dateStamp := now.UTC().Format("20060102")

	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", payloadSHA256)
	if req.Host == "" {
		req.Host = req.URL.Host
	}

	canonicalHeaders, signedHeaders := canonicalizeHeaders(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalPath(req.URL.Path),
		canonicalQuery(req.URL),
		canonicalHeaders,
		signedHeaders,
		payloadSHA256,
	}, "\n")

	scope := dateStamp + "/" + region + "/" + service + "/aws4_request"
	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(creds.SecretAccessKey, dateStamp, region)
	signature := hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))

	auth := algorithm + " Credential=" + creds.AccessKeyID + "/" + scope +
		", SignedHeaders=" + signedHeaders + ", Signature=" + signature
	req.Header.Set("Authorization", auth)
}

func deriveSigningKey(secret, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonicalPath URI-encodes every path segment except the separating
// slashes.
func canonicalPath(p string) string {
	if p == "" {
		return "/"
	}
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = encodePathSegment(s)
	}
	return strings.Join(segments, "/")
}

func encodePathSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		if isUnreserved(r) {
			b.WriteRune(r)
		} else {
			for _, c := range []byte(string(r)) {
				b.WriteString("%")
				b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
			}
		}
	}
	return b.String()
}

func isUnreserved(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
		r == '-' || r == '.' || r == '_' || r == '~'
}

func canonicalQuery(u *url.URL) string {
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

func canonicalizeHeaders(req *http.Request) (canonical, signed string) {
	headers := map[string]string{
		"host": req.Host,
	}
	for name, values := range req.Header {
		lower := strings.ToLower(name)
		if lower == "authorization" {
			continue
		}
		headers[lower] = strings.TrimSpace(strings.Join(values, ","))
	}
	names := make([]string, 0, len(headers))
	for n := range headers {
		names = append(names, n)
	}
	sort.Strings(names)
	var cb strings.Builder
	for _, n := range names {
		cb.WriteString(n)
		cb.WriteString(":")
		cb.WriteString(headers[n])
		cb.WriteString("\n")
	}
	return cb.String(), strings.Join(names, ";")
}

// RegionFromEndpoint extracts the AWS region from an S3-compatible endpoint
// hostname, recognizing the "s3.<region>.amazonaws.com" and
// "<region>.s3.amazonaws.com" shapes; anything else defaults to
// "us-east-1".
func RegionFromEndpoint(host string) string {
	parts := strings.Split(host, ".")
	for i, p := range parts {
		if p == "s3" && i+1 < len(parts) && parts[i+1] != "amazonaws" {
			return parts[i+1]
		}
	}
	if len(parts) >= 3 && parts[1] == "s3" && parts[2] == "amazonaws" {
		return parts[0]
	}
	return "us-east-1"
}
