// File: elements/ip/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package ip holds the IPv4 elements: header validation and offloadable
// longest-prefix-match routing.
package ip
