package core

// Version is the service version reported in metrics and traces.
const Version = "0.3.0"
