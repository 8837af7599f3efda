package config

// Sample returns a commented configuration with the defaults spelled out.
func Sample() string { return sample }

const sample = `# voicewatch configuration

# .env files whose variables may be referenced as ${VAR} in services.
env_files = []

[supervisor]
interval = "5m"
cooldown = "30m"
max_restart_attempts = 3
probe_timeout = "5s"
restart_grace = "10s"

[units]
# "systemd" drives units with systemctl; "command" runs the templates below.
kind = "systemd"
user = false
timeout = "30s"
# is_active = "rc-service {unit} status"
# restart = "rc-service {unit} restart"

[log]
level = "info"
format = "text" # text, json or tint
color = false
# file = "/var/log/voicewatch/voicewatch.log"

[server]
enabled = true
listen = "127.0.0.1:8099"
base_path = "/api"
# Bearer token required by POST /reset and POST /cycle.
# token = "${VOICEWATCH_TOKEN}"

[server.tls]
# cert_file = "/etc/voicewatch/tls.crt"
# key_file = "/etc/voicewatch/tls.key"
# min_version = "1.3"

[metrics]
enabled = true

[history]
# DSNs: file path (.log/.jsonl), sqlite://, postgres://, clickhouse://, opensearch://
sinks = ["/var/lib/voicewatch/transitions.jsonl"]
recent_size = 256

[host]
disk_path = "/"
disk_warn_percent = 90.0
memory_warn_percent = 90.0
temperature_warn_celsius = 80.0
# outbound internet check, off unless a URL is set
# connectivity_url = "https://httpbin.org/get"
# latency_warn_ms = 2000.0

[[services]]
name = "tts"
unit = "wyoming-piper.service"
port = 10200

[[services]]
name = "stt"
unit = "wyoming-whisper.service"
port = 10300

[[services]]
name = "wakeword"
unit = "wyoming-openwakeword.service"
port = 10400

[[services]]
name = "llm"
unit = "ollama.service"
port = 11434
path = "/api/version"
kind = "http"
# kind = "openai" with path = "/v1" lists models instead

[[services]]
name = "automation-hub"
unit = "home-assistant@homeassistant.service"
port = 8123
path = "/"
kind = "http"
depends_on = ["llm"]
`
