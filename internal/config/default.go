package config

// DefaultYAML is the built-in configuration template. Every value is an
// environment reference with a default, keeping the whole service
// drivable from environment variables alone.
const DefaultYAML = `version: "1"

modules:
  tracing.otel:
    enabled: ${OTEL_ENABLED:-false}
    endpoint: ${OTEL_EXPORTER_OTLP_ENDPOINT:-localhost:4318}
    sample_ratio: ${OTEL_SAMPLE_RATIO:-1.0}

  store.sqlite:
    path: ${DB_PATH:-./data/user_memory.db}

  embedder.local:
    model_path: ${EMBEDDING_MODEL_PATH:-}
    cache_size: ${EMBEDDING_CACHE_SIZE:-1000}
    cache_ttl_ms: ${EMBEDDING_CACHE_TTL:-86400000}

  memory.service:
    min_similarity: ${MIN_SIMILARITY_THRESHOLD:-0.3}
    max_age_days: ${MAX_AGE_DAYS:-30}

  retention.janitor:
    enabled: ${RETENTION_ENABLED:-true}
    max_days: ${RETENTION_MAX_DAYS:-1825}
    purge_days: ${RETENTION_PURGE_DAYS:-365}
    check_interval_hours: ${RETENTION_CHECK_INTERVAL_HOURS:-24}

  monitor.screen:
    enabled: ${MONITOR_SCREEN_OCR:-false}
    user_id: ${MONITOR_USER_ID:-default_user}
    capture_interval_ms: ${SCREEN_CAPTURE_INTERVAL:-10000}
    idle_timeout_ms: ${SCREEN_CAPTURE_IDLE_TIMEOUT:-300000}
    diff_threshold: ${SCREEN_CAPTURE_DIFF_THRESHOLD:-0.15}
    tesseract_path: ${TESSERACT_PATH:-tesseract}

  skills.manager:
    dir: ${SKILLS_DIR:-}
    watch: ${SKILLS_WATCH:-true}

  cron.scheduler: {}

  gateway.http:
    host: ${HOST:-127.0.0.1}
    port: ${PORT:-3001}
    api_keys: ${API_KEY:-}
    allowed_origins: ${ALLOWED_ORIGINS:-}
    audit_log: ${AUDIT_LOG_PATH:-}
`
