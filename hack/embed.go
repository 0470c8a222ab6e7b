package hack

import _ "embed"

// SystemdUnitTemplate is the systemd unit installed by `bfly install`.
//
//go:embed bfly.service
var SystemdUnitTemplate string
