package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicLoginOutcome   Topic = "login.outcome"
	TopicProbeStatus    Topic = "probe.status"
	TopicConfigReloaded Topic = "config.reloaded"
)

// Source describes which component produced an event.
type Source string

const (
	SourceReconnectController Source = "reconnect_controller"
	SourceProber              Source = "prober"
	SourceConfigStore         Source = "config_store"
	SourceAPIServer           Source = "api_server"
	SourceClient              Source = "client"
	SourceUnknown             Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// Trigger values carried on login outcome events.
const (
	TriggerManual   = "manual"
	TriggerReactive = "reactive"
	TriggerPeriodic = "periodic"
)

// Outcome status values carried on login outcome events.
const (
	OutcomeSuccess        = "success"
	OutcomeFailure        = "failure"
	OutcomeTransportError = "transport_error"
)

// LoginOutcomeEvent reports the result of a finished login attempt.
type LoginOutcomeEvent struct {
	AttemptID  string
	Trigger    string
	Status     string
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// ProbeStatusEvent reports one connectivity probe cycle.
type ProbeStatusEvent struct {
	Reachable bool
	ProbeURL  string
	Latency   time.Duration
	CheckedAt time.Time
}

// ConfigReloadedEvent notifies consumers that the configuration snapshot
// changed, either through the local API or an external file edit.
type ConfigReloadedEvent struct {
	Path     string
	External bool
}

// Login groups the typed topic descriptors for login events.
var Login = struct {
	Outcome TopicDef[LoginOutcomeEvent]
}{
	Outcome: NewTopicDef[LoginOutcomeEvent](TopicLoginOutcome),
}

// Probe groups the typed topic descriptors for connectivity events.
var Probe = struct {
	Status TopicDef[ProbeStatusEvent]
}{
	Status: NewTopicDef[ProbeStatusEvent](TopicProbeStatus),
}

// Config groups the typed topic descriptors for configuration events.
var Config = struct {
	Reloaded TopicDef[ConfigReloadedEvent]
}{
	Reloaded: NewTopicDef[ConfigReloadedEvent](TopicConfigReloaded),
}
