// Package version holds the daemon's build version.
package version

// Version is the fugue daemon's semantic version.
const Version = "0.1.0"
