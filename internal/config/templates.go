package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "agent", "memxferd":
		return agentTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const agentTemplate = `name = "memxferd"
addr = "127.0.0.1:5555"
admin_addr = "127.0.0.1:9100"
cors_origins = ["http://localhost:3000"]

backend = "UCX"
kind = "dram"
buffer_size = 1048576
dev_id = 0

[conns]
TCP = "127.0.0.1:5555"

[session]
connect_timeout = "5s"
read_timeout = "15s"
write_timeout = "15s"
max_payload_bytes = 67108864
max_attempts = 3
`
