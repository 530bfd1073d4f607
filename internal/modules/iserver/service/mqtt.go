package service

import (
	"context"

	"github.com/MSLNZ/pr-omega-logger/internal/mqtt"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
)

// registerMQTTHandler sets up the ingest handler for telemetry messages
func registerMQTTHandler(source mqtt.TelemetrySource, s *Service) {
	source.SetMessageHandler(func(telemetry types.Telemetry) error {
		s.logger.Debug("processing telemetry message",
			"serial", telemetry.Serial,
			"timestamp", telemetry.Timestamp,
		)

		if err := s.Ingest(context.Background(), telemetry); err != nil {
			s.logger.Error("failed to insert reading",
				"serial", telemetry.Serial,
				"error", err,
			)
			return err
		}

		s.logger.Debug("successfully stored telemetry",
			"serial", telemetry.Serial,
		)
		return nil
	})
}
