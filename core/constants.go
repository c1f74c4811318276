package core

// Environment variables
const (
	EnvService           = "DD_SERVICE"
	EnvEnvironment       = "DD_ENV"
	EnvTraceEnabled      = "DD_TRACE_ENABLED"
	EnvDisabledHooks     = "DD_TRACE_DISABLED_INSTRUMENTATIONS"
	EnvLogLevel          = "DD_TRACE_LOG_LEVEL"
	EnvLogFormat         = "DD_TRACE_LOG_FORMAT"
	EnvDebug             = "DD_TRACE_DEBUG"
	EnvTelemetryEnabled  = "DD_TELEMETRY_ENABLED"
	EnvTelemetryExporter = "DD_TELEMETRY_EXPORTER"
	EnvOTLPEndpoint      = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOTLPInsecure      = "OTEL_EXPORTER_OTLP_INSECURE"
	EnvOTELServiceName   = "OTEL_SERVICE_NAME"
	EnvKubernetesHost    = "KUBERNETES_SERVICE_HOST"
	EnvConfigFile        = "DD_TRACE_CONFIG_FILE"
)

// Exporter names accepted by TelemetryConfig.Exporter
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Metric names emitted by the instrumentation core
const (
	MetricShimWraps        = "instrumentation.shim.wraps"
	MetricShimUnwraps      = "instrumentation.shim.unwraps"
	MetricShimErrors       = "instrumentation.shim.errors"
	MetricHookEnabled      = "instrumentation.hook.enabled"
	MetricHookFailures     = "instrumentation.hook.failures"
	MetricDuplicateContext = "instrumentation.context.duplicate"
	MetricTaskPanics       = "instrumentation.loop.panics"
	MetricSubscriberPanics = "instrumentation.channel.subscriber_panics"
)
