// Package remote implements the optional shared artifact tier: compiled
// artifacts are zstd-compressed and stored in an S3-compatible bucket so
// several machines can reuse each other's builds.
package remote
