package s3db

import (
	"fmt"
	"net/url"
	"strings"
)

// Scheme selects which Blob Client driver a connection string resolves to
// (spec.md §6: "s3://...", "memory://..."; gs:// carried over from the
// teacher as domain-stack enrichment).
type Scheme string

const (
	SchemeS3     Scheme = "s3"
	SchemeGS     Scheme = "gs"
	SchemeMemory Scheme = "memory"
)

// ConnInfo is a parsed connection string (spec.md §6:
// "s3://ACCESS:SECRET@ENDPOINT/BUCKET/KEY-PREFIX").
type ConnInfo struct {
	Scheme    Scheme
	AccessKey string
	SecretKey string
	Endpoint  string
	Bucket    string
	Prefix    string

	// Insecure selects plain http:// for the endpoint instead of https://,
	// set via a trailing "?insecure=true" (used against local MinIO /
	// testcontainers endpoints that don't terminate TLS).
	Insecure bool
}

// ParseConnectionString parses the three connection schemes this core
// supports. s3:// reads ACCESS:SECRET@ENDPOINT/BUCKET/PREFIX; gs:// and
// memory:// read the host as the bucket and the path as the prefix. For
// memory:// the bucket and prefix only name the database (its default
// namespace and secret-cipher salt): the in-memory backend stores keys
// without any prefix.
func ParseConnectionString(raw string) (*ConnInfo, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	scheme := Scheme(u.Scheme)
	switch scheme {
	case SchemeS3, SchemeGS, SchemeMemory:
	default:
		return nil, fmt.Errorf("unsupported connection scheme %q", u.Scheme)
	}

	info := &ConnInfo{Scheme: scheme}

	if scheme == SchemeMemory {
		info.Prefix = strings.TrimPrefix(u.Path, "/")
		info.Bucket = u.Host
		return info, nil
	}

	if scheme == SchemeGS {
		if u.Host == "" {
			return nil, fmt.Errorf("connection string %q is missing a bucket", raw)
		}
		info.Bucket = u.Host
		info.Prefix = strings.TrimPrefix(u.Path, "/")
		return info, nil
	}

	if u.User != nil {
		info.AccessKey = u.User.Username()
		info.SecretKey, _ = u.User.Password()
	}
	info.Endpoint = u.Host
	info.Insecure = u.Query().Get("insecure") == "true"

	path := strings.TrimPrefix(u.Path, "/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("connection string %q is missing a bucket", raw)
	}
	info.Bucket = parts[0]
	if len(parts) == 2 {
		info.Prefix = parts[1]
	}
	return info, nil
}
