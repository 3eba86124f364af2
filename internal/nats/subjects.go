package nats

import "fmt"

// Subject hierarchy for cron actions.
//
//	ojs.cron.rpc.{name}     -- remote procedures invoked by "call"
//	ojs.cron.events.{name}  -- events published by "emit"
const (
	SubjectPrefix = "ojs.cron"

	// DefaultBucket holds the job index, the job definitions and the records
	// jobs act on.
	DefaultBucket = "ojs-cron-records"

	// Headers.
	HeaderInstance     = "Ojs-Cron-Instance"
	HeaderServiceError = "Nats-Service-Error"
)

// RPCSubject returns the request subject of a remote procedure.
// Example: ojs.cron.rpc.billing.sweep
func RPCSubject(name string) string {
	return fmt.Sprintf("%s.rpc.%s", SubjectPrefix, name)
}

// EventSubject returns the subject an event is published on.
// Example: ojs.cron.events.tick
func EventSubject(name string) string {
	return fmt.Sprintf("%s.events.%s", SubjectPrefix, name)
}

// EventsAllSubject returns the wildcard subject for all events.
func EventsAllSubject() string {
	return fmt.Sprintf("%s.events.>", SubjectPrefix)
}
