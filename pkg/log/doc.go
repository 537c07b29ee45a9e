/*
Package log provides structured logging for coriolis using zerolog.

Call Init once at process startup with the desired level and output
format, then derive component loggers via WithComponent, WithPeerID,
and WithFlag so every log line carries consistent structured fields
instead of ad-hoc string formatting.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	clog := log.WithComponent("coordinator")
	clog.Info().Str("flag", "ha_queues_v2").Msg("flag enabled")
*/
package log
