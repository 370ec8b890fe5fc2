// File: offload/log.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package offload

import (
	"github.com/momentics/hioload-accel/internal/logging"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
)

var log = logging.DefaultLogger.WithField(logfields.LogSubsys, "offload")
