package config

import (
	"time"

	"github.com/go-kit/log"
)

var Version string

// Used so that tests can generate fixed timestamps.
var Clock TimestampGenerator = RealTimestampGenerator{}

// Logger is the process-wide fallback logfmt logger; the log package wraps
// it with per-job context.
var Logger log.Logger

// Root directory under which per-job staging directories are created.
var TranscodedRoot = "/data/transcoded"

// Default segment length, in seconds, for HLS/DASH segmenting.
const DefaultSegmentSizeSecs = 10

// Maximum segment size operators may override to.
const MaxSegmentSizeSecs = 20

// Somewhat arbitrary and conservative number of maximum jobs in flight in
// the system at one time.
const MAX_JOBS_IN_FLIGHT = 8

// How long a PolitelyWait executor will wait for a subprocess to exit on its
// own before it is force-terminated.
const PolitelyWaitTimeout = 300 * time.Second

// How long stop() gives a terminated subprocess to exit before escalating to
// a kill.
const TerminateGracePeriod = 1 * time.Second

// Interval between Uploader directory sweeps.
const UploadTickInterval = 1 * time.Second

// Interval between thread-executor loop passes (matches the 1-second yield
// between run_once calls).
const ExecutorLoopInterval = 1 * time.Second

// Interval between Rendition Runner controller-status polls.
const RunnerPollInterval = 1 * time.Second

// Names of the transcoder/packager binaries that Process Executors shell out
// to. Overridable so tests can substitute fakes.
var (
	TranscoderBinary = "ffmpeg"
	PackagerBinary   = "packager"
)

// Signed-URL lifetime used when an s3:// input must be handed to the
// transcoder as an http(s) URL.
const SignedInputURLLifetime = 24 * time.Hour

// Maximum webhook retry backoff, applied by the webhook package's re-enqueue.
const WebhookMaxBackoff = 5 * time.Minute
