// Package python runs pipeline steps in a Python subprocess.
//
// Each session is a fresh interpreter executing the embedded bridge script,
// talking newline-delimited JSON over stdin/stdout. The interpreter comes
// from a virtualenv that the Provisioner creates on first use with the
// pinned package set; stderr of the bridge is streamed into the log.
package python
