// Package mqtt reports conversation activity to an MQTT broker. Session
// lifecycle events from the bus (start, hold, wake, nudge, compaction,
// end) are published as JSON, and a small set of Home Assistant sensors
// (active conversations, conversations and tokens today) is kept
// current so the front desk shows up as a device on the hotel's
// dashboard.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads and a
// birth message ("online") to the availability topic. A will message
// moves the availability topic to "offline" on unexpected disconnects.
package mqtt
