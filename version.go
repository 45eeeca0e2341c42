// Package costgo provides the version information for cost-go.
package costgo

// Version is the current version of cost-go.
const Version = "0.1.0"

// GetVersion returns the current version string.
func GetVersion() string {
	return Version
}

// UserAgent is sent on every outbound provider request.
func UserAgent() string {
	return "cost-go/" + Version
}
