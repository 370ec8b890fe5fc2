// File: pool/log.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"github.com/momentics/hioload-accel/internal/logging"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
)

var log = logging.DefaultLogger.WithField(logfields.LogSubsys, "pool")
