// Package mqtt publishes the assistant's status to an MQTT broker as a
// Home Assistant device.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for each
// sensor entity and a birth message ("online") to the availability
// topic. A will message moves the availability topic to "offline" on
// unexpected disconnects.
//
// Sensor state follows the event bus: every resolved utterance and
// every fired trigger updates the sensors and republishes them, with
// the full action record on the last_command attributes topic.
package mqtt
