// Package runbox executes untrusted code in a container and publishes
// what it produced to a remote workspace.
package runbox

// Version is the runbox release version.
const Version = "0.3.0"
